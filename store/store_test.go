package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midbel/xquery/store"
	"github.com/midbel/xquery/xml"
	"github.com/midbel/xquery/xquery"
)

const books = `<books><book id="1"><title>TCP/IP Illustrated</title></book><book id="2"><title>Data on the Web</title></book></books>`

func openStores(t *testing.T) map[string]store.Store {
	t.Helper()
	sqlite, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	mem, err := store.Open(store.DriverMemory, "")
	require.NoError(t, err)

	stores := map[string]store.Store{
		store.DriverMemory: mem,
		store.DriverSQLite: sqlite,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func put(t *testing.T, s store.Store, uri, content string) store.Entry {
	t.Helper()
	doc, err := xml.ParseString(content)
	require.NoError(t, err)
	e, err := s.Put(context.Background(), uri, doc)
	require.NoError(t, err)
	return e
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := store.Open("mongo", "")
	assert.ErrorIs(t, err, store.ErrDriver)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Document(ctx, "books.xml")
			assert.ErrorIs(t, err, store.ErrNotFound)

			_, err = s.Put(ctx, "", xml.NewDocument(xml.NewElement(xml.LocalName("a"))))
			assert.ErrorIs(t, err, store.ErrURI)

			first := put(t, s, "books.xml", books)
			assert.Equal(t, "books.xml", first.URI)
			assert.Equal(t, len(books), first.Size)

			doc, err := s.Document(ctx, "books.xml")
			require.NoError(t, err)
			assert.Equal(t, "books.xml", doc.URI)
			assert.Equal(t, books, xml.WriteNode(doc.Root()))

			second := put(t, s, "books.xml", `<books/>`)
			assert.NotEqual(t, first.Revision, second.Revision)
			stat, err := s.Stat(ctx, "books.xml")
			require.NoError(t, err)
			assert.Equal(t, second.Revision, stat.Revision)

			put(t, s, "authors.xml", `<authors/>`)
			list, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "authors.xml", list[0].URI)
			assert.Equal(t, "books.xml", list[1].URI)

			require.NoError(t, s.Remove(ctx, "authors.xml"))
			assert.ErrorIs(t, s.Remove(ctx, "authors.xml"), store.ErrNotFound)
			_, err = s.Stat(ctx, "authors.xml")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestStorePutAll(t *testing.T) {
	ctx := context.Background()
	parse := func(str string) *xml.Document {
		doc, err := xml.ParseString(str)
		require.NoError(t, err)
		return doc
	}
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			writes := []store.Write{
				{URI: "books.xml", Document: parse(books)},
				{URI: "", Document: parse(`<empty/>`)},
			}
			_, err := s.PutAll(ctx, writes)
			assert.ErrorIs(t, err, store.ErrURI)
			list, err := s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)

			writes[1].URI = "authors.xml"
			entries, err := s.PutAll(ctx, writes)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "books.xml", entries[0].URI)
			assert.Equal(t, "authors.xml", entries[1].URI)
			assert.NotEqual(t, entries[0].Revision, entries[1].Revision)

			doc, err := s.Document(ctx, "authors.xml")
			require.NoError(t, err)
			assert.Equal(t, `<empty/>`, xml.WriteNode(doc.Root()))
		})
	}
}

func TestStoreIsolation(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			put(t, s, "books.xml", books)

			doc, err := s.Document(ctx, "books.xml")
			require.NoError(t, err)
			root := doc.Root().(*xml.Element)
			root.Nodes = root.Nodes[:1]

			again, err := s.Document(ctx, "books.xml")
			require.NoError(t, err)
			assert.Equal(t, books, xml.WriteNode(again.Root()))
		})
	}
}

func TestSQLiteRevisions(t *testing.T) {
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	defer s.Close()

	first := put(t, s, "books.xml", books)
	second := put(t, s, "books.xml", `<books/>`)

	hist, ok := s.(store.History)
	require.True(t, ok)
	revs, err := hist.Revisions(context.Background(), "books.xml")
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, first.Revision, revs[0].Revision)
	assert.Equal(t, second.Revision, revs[1].Revision)
}

func TestApplier(t *testing.T) {
	const query = `(
	delete node doc("books.xml")/books/book[@id = "1"],
	rename node doc("books.xml")/books/book[@id = "2"]/title as "name",
	put(<log count="{count(doc("books.xml")//book)}"/>, "log.xml")
)`
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			put(t, s, "books.xml", books)

			q, err := xquery.Compile(query, xquery.WithDocuments(s))
			require.NoError(t, err)
			assert.Equal(t, xquery.Updating, q.Category())

			_, err = q.Eval(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, q.Pending().Len())

			batch, err := store.NewApplier(s, nil).Apply(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, 3, batch.Applied)
			assert.False(t, batch.ID.IsNil())
			require.Len(t, batch.Saved, 2)
			assert.Equal(t, "books.xml", batch.Saved[0].URI)
			assert.Equal(t, "log.xml", batch.Saved[1].URI)

			doc, err := s.Document(ctx, "books.xml")
			require.NoError(t, err)
			assert.Equal(t, `<books><book id="2"><name>Data on the Web</name></book></books>`, xml.WriteNode(doc.Root()))

			log, err := s.Document(ctx, "log.xml")
			require.NoError(t, err)
			assert.Equal(t, `<log count="2"/>`, xml.WriteNode(log.Root()))

			_, err = store.NewApplier(s, nil).Apply(ctx, q)
			assert.ErrorIs(t, err, xquery.ErrDrained)
		})
	}
}

func TestApplierSavesAllOrNothing(t *testing.T) {
	const query = `(
	delete node doc("books.xml")/books/book[@id = "1"],
	put(<log/>, "log.xml")
)`
	var (
		ctx  = context.Background()
		file = filepath.Join(t.TempDir(), "docs.db")
	)
	s, err := store.OpenSQLite(file)
	require.NoError(t, err)
	defer s.Close()
	put(t, s, "books.xml", books)

	db, err := sql.Open(store.DriverSQLite, file)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TRIGGER reject_log BEFORE INSERT ON documents WHEN NEW.uri = 'log.xml' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	q, err := xquery.Compile(query, xquery.WithDocuments(s))
	require.NoError(t, err)
	_, err = q.Eval(ctx)
	require.NoError(t, err)

	_, err = store.NewApplier(s, nil).Apply(ctx, q)
	require.Error(t, err)

	doc, err := s.Document(ctx, "books.xml")
	require.NoError(t, err)
	assert.Equal(t, books, xml.WriteNode(doc.Root()))
	_, err = s.Document(ctx, "log.xml")
	assert.ErrorIs(t, err, store.ErrNotFound)

	hist, err := s.(store.History).Revisions(ctx, "books.xml")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestApplierFailedEvaluation(t *testing.T) {
	const query = `(delete node doc("books.xml")/books/book, error())`
	ctx := context.Background()
	s := store.Memory()
	defer s.Close()
	put(t, s, "books.xml", books)

	q, err := xquery.Compile(query, xquery.WithDocuments(s))
	require.NoError(t, err)
	_, err = q.Eval(ctx)
	require.Error(t, err)

	batch, err := store.NewApplier(s, nil).Apply(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Applied)
	assert.Empty(t, batch.Saved)

	doc, err := s.Document(ctx, "books.xml")
	require.NoError(t, err)
	assert.Equal(t, books, xml.WriteNode(doc.Root()))
}
