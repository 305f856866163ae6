package metadata

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gometa/pkg/assembly/identity"
)

// pagedScope serves a fixed number of references and files and records how
// the importer pages through them.
type pagedScope struct {
	refs, files int
	pageSizes   []int
	failAt      int
	attr        []byte
	attrErr     error
}

func (s *pagedScope) fill(total int, e *Enum, page []Token, id TableID) int {
	s.pageSizes = append(s.pageSizes, len(page))
	n := 0
	for n < len(page) && int(e.Next) < total {
		e.Next++
		page[n] = NewToken(id, e.Next)
		n++
	}
	return n
}

func (s *pagedScope) EnumAssemblyRefs(e *Enum, page []Token) (int, error) {
	return s.fill(s.refs, e, page, TableAssemblyRef), nil
}

func (s *pagedScope) AssemblyRefProps(tok Token) (identity.Raw, error) {
	if s.failAt != 0 && int(tok.RID()) == s.failAt {
		return identity.Raw{}, errors.New("corrupt row")
	}
	return identity.Raw{Name: fmt.Sprintf("Ref%02d", tok.RID()), Major: uint16(tok.RID())}, nil
}

func (s *pagedScope) EnumFiles(e *Enum, page []Token) (int, error) {
	if s.failAt < 0 {
		return 0, errors.New("file table unreadable")
	}
	return s.fill(s.files, e, page, TableFile), nil
}

func (s *pagedScope) FileProps(tok Token) (FileProps, error) {
	return FileProps{Name: fmt.Sprintf("file%d.bin", tok.RID())}, nil
}

func (s *pagedScope) AssemblyToken() (Token, error) { return NewToken(TableAssembly, 1), nil }

func (s *pagedScope) AssemblyProps(Token) (identity.Raw, error) {
	return identity.Raw{Name: "Self"}, nil
}

func (s *pagedScope) CustomAttributeByName(Token, string) ([]byte, bool, error) {
	if s.attrErr != nil {
		return nil, false, s.attrErr
	}
	return s.attr, s.attr != nil, nil
}

func (s *pagedScope) Close() error { return nil }

func TestReferencesPaging(t *testing.T) {
	tests := []struct {
		n     int
		calls int
	}{
		{n: 0, calls: 1},
		{n: 1, calls: 2},
		{n: PageSize, calls: 2},
		{n: PageSize + 1, calls: 3},
		{n: 3*PageSize + 5, calls: 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			s := &pagedScope{refs: tt.n}
			refs, err := NewImporter(s).References()
			require.NoError(t, err)
			require.Len(t, refs, tt.n)
			for i, r := range refs {
				assert.Equal(t, fmt.Sprintf("Ref%02d", i+1), r.Name())
			}
			assert.Len(t, s.pageSizes, tt.calls)
			for _, size := range s.pageSizes {
				assert.Equal(t, PageSize, size)
			}
		})
	}
}

func TestReferencesFailureIsFatal(t *testing.T) {
	s := &pagedScope{refs: 40, failAt: PageSize + 2}
	refs, err := NewImporter(s).References()
	assert.Nil(t, refs, "no partial list")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrImportFailed))

	var ie *ImportError
	require.True(t, errors.As(err, &ie))
	assert.Contains(t, ie.Op, "AssemblyRef[18]")
	assert.EqualError(t, ie.Err, "corrupt row")
}

func TestFilesPaging(t *testing.T) {
	s := &pagedScope{files: PageSize + 4}
	files, err := NewImporter(s).Files()
	require.NoError(t, err)
	require.Len(t, files, PageSize+4)
	assert.Equal(t, "file1.bin", files[0].Name())
	assert.Equal(t, "file20.bin", files[PageSize+3].Name())

	_, err = NewImporter(&pagedScope{failAt: -1}).Files()
	assert.True(t, errors.Is(err, ErrImportFailed))
}

func TestCustomAttributeBestEffort(t *testing.T) {
	s := &pagedScope{attr: []byte{1, 0, 0, 0}}
	b, ok := NewImporter(s).AssemblyAttribute("X")
	require.True(t, ok)
	b[0] = 9
	assert.Equal(t, byte(1), s.attr[0], "callers get a copy")

	_, ok = NewImporter(&pagedScope{}).AssemblyAttribute("X")
	assert.False(t, ok)

	_, ok = NewImporter(&pagedScope{attrErr: errors.New("corrupt")}).AssemblyAttribute("X")
	assert.False(t, ok)
}
