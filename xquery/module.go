package xquery

import (
	"maps"
	"slices"

	"github.com/midbel/xquery/xml"
)

const (
	nsXML    = "http://www.w3.org/XML/1998/namespace"
	nsXS     = "http://www.w3.org/2001/XMLSchema"
	nsXSI    = "http://www.w3.org/2001/XMLSchema-instance"
	nsFn     = "http://www.w3.org/2005/xpath-functions"
	nsLocal  = "http://www.w3.org/2005/xquery-local-functions"
	nsErr    = "http://www.w3.org/2005/xqt-errors"
	nsXQuery = "http://www.w3.org/2012/xquery"
)

var defaultNamespaces = map[string]string{
	"xml":   nsXML,
	"xs":    nsXS,
	"xsi":   nsXSI,
	"fn":    nsFn,
	"local": nsLocal,
	"err":   nsErr,
}

// DefaultNamespaces returns the prefixes known by every query.
func DefaultNamespaces() map[string]string {
	return maps.Clone(defaultNamespaces)
}

func varKey(qn xml.QName) string {
	if qn.Uri == "" {
		return qn.Name
	}
	return qn.ExpandedName()
}

type Variable struct {
	Name        xml.QName
	Type        *SequenceType
	Annotations []Annotation
	External    bool
	Init        Expr

	key string
}

func (v *Variable) Key() string {
	return v.key
}

// Module is the result of the compilation of a main module or of a library
// module. Body is nil for a library module.
type Module struct {
	Namespace    string
	Prefix       string
	Version      string
	Encoding     string
	Library      bool
	Namespaces   map[string]string
	Variables    []*Variable
	Functions    []*Function
	Imports      []string
	Revalidation string
	Options      map[string]string
	Setters      map[string]string
	Body         Expr
}

func (m *Module) Category() Category {
	if m.Body == nil {
		return Simple
	}
	return m.Body.Category()
}

// Externals returns the names of the external variables of the module.
func (m *Module) Externals() []string {
	var list []string
	for _, v := range m.Variables {
		if v.External {
			list = append(list, v.key)
		}
	}
	slices.Sort(list)
	return list
}

func (m *Module) Function(name xml.QName, arity int) (*Function, bool) {
	ix := slices.IndexFunc(m.Functions, func(f *Function) bool {
		return f.Name.Equal(name) && f.accepts(arity)
	})
	if ix < 0 {
		return nil, false
	}
	return m.Functions[ix], true
}
