package xquery

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSyntax  = errors.New("syntax error")
	ErrStatic  = errors.New("static error")
	ErrDynamic = errors.New("dynamic error")

	ErrDrained  = errors.New("pending update list already drained")
	ErrTimeout  = errors.New("evaluation timed out")
	ErrCanceled = errors.New("evaluation canceled")
	ErrKilled   = errors.New("evaluation killed")
)

const (
	CodeSyntax           = "XPST0003"
	CodeUndefinedVar     = "XPST0008"
	CodeUnknownFunc      = "XPST0017"
	CodeUnknownType      = "XPST0051"
	CodeUnknownPrefix    = "XPST0081"
	CodeTypeError        = "XPTY0004"
	CodeNotNode          = "XPTY0019"
	CodeNoContext        = "XPDY0002"
	CodeMixedUpdate      = "XUST0001"
	CodeNotUpdating      = "XUST0002"
	CodeRevalidation     = "XUST0003"
	CodeUpdatingReturn   = "XUST0028"
	CodeAnnotationVar    = "XUST0032"
	CodeAnnotationBoth   = "XUST0033"
	CodeInsertSource     = "XUTY0004"
	CodeInsertTarget     = "XUTY0005"
	CodeInsertSibling    = "XUTY0006"
	CodeDeleteTarget     = "XUTY0007"
	CodeReplaceTarget    = "XUTY0008"
	CodeReplaceNoParent  = "XUDY0009"
	CodeReplaceElement   = "XUTY0010"
	CodeReplaceAttribute = "XUTY0011"
	CodeRenameTarget     = "XUTY0012"
	CodeCopySource       = "XUTY0013"
	CodeModifyTarget     = "XUDY0014"
	CodeRenameConflict   = "XUDY0015"
	CodeReplaceConflict  = "XUDY0016"
	CodeValueConflict    = "XUDY0017"
	CodeDuplicateAttr    = "XUDY0021"
	CodeInsertAttribute  = "XUTY0022"
	CodeInsertNoParent   = "XUDY0029"
	CodeEmptyTarget      = "XUDY0027"
	CodeImplLimit        = "XPDY0130"
	CodeUpdatingCall     = "XUDY0038"
	CodeDuplicateVar     = "XQST0049"
	CodeDuplicateFunc    = "XQST0034"
	CodeUnknownModule    = "XQST0059"
	CodeExternalVar      = "XPDY0002"
	CodeDivByZero        = "FOAR0001"
	CodeInvalidArg       = "FORG0006"
	CodeCastFailed       = "FORG0001"
	CodeCardinality      = "FORG0003"
	CodeDocNotFound      = "FODC0002"
	CodeParseXML         = "FODC0006"
	CodeUserError        = "FOER0000"
	CodeWatchdog         = "XQDY0000"
)

// SyntaxError is reported by the Parser. Syntax errors are never returned
// one by one: they are collected in an ErrorList.
type SyntaxError struct {
	Code    string
	Message string
	Position
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Position, e.Message)
}

func (e SyntaxError) Is(err error) bool {
	return err == ErrSyntax
}

type ErrorList []SyntaxError

func (e ErrorList) Error() string {
	var list []string
	for i := range e {
		list = append(list, e[i].Error())
	}
	return strings.Join(list, "\n")
}

func (e ErrorList) Is(err error) bool {
	return err == ErrSyntax && len(e) > 0
}

type StaticError struct {
	Code    string
	Message string
	Position
}

func staticError(code string, pos Position, msg string, args ...any) error {
	return StaticError{
		Code:     code,
		Message:  fmt.Sprintf(msg, args...),
		Position: pos,
	}
}

func (e StaticError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Position, e.Message)
}

func (e StaticError) Is(err error) bool {
	return err == ErrStatic
}

type DynamicError struct {
	Code    string
	Message string
	Err     error
}

func dynamicError(code string, msg string, args ...any) error {
	return DynamicError{
		Code:    code,
		Message: fmt.Sprintf(msg, args...),
	}
}

func wrapError(code string, err error) error {
	if err == nil {
		return nil
	}
	var de DynamicError
	if errors.As(err, &de) {
		return err
	}
	return DynamicError{
		Code:    code,
		Message: err.Error(),
		Err:     err,
	}
}

func (e DynamicError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e DynamicError) Is(err error) bool {
	return err == ErrDynamic
}

func (e DynamicError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the code carried by err or an empty string.
func ErrorCode(err error) string {
	var (
		se SyntaxError
		ls ErrorList
		st StaticError
		de DynamicError
	)
	switch {
	case errors.As(err, &ls) && len(ls) > 0:
		return ls[0].Code
	case errors.As(err, &se):
		return se.Code
	case errors.As(err, &st):
		return st.Code
	case errors.As(err, &de):
		return de.Code
	default:
		return ""
	}
}
