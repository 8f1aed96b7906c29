package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-match/cpe"
	"github.com/aquasecurity/vuln-match/nvd"
	"github.com/aquasecurity/vuln-match/store"
	"github.com/aquasecurity/vuln-match/store/filestore"
)

func ids(items []nvd.Item) []string {
	return lo.Map(items, func(item nvd.Item, _ int) string { return item.ID() })
}

// copyRecord copies a record of testdata/nvd into appFs under nvd/.
func copyRecord(t *testing.T, appFs afero.Fs, year, id string) {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", "nvd", year, id+".json"))
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(appFs, filepath.Join("nvd", year, id+".json"), b, os.ModePerm))
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := filestore.New(filepath.Join("testdata", "nvd"))
	defer s.Close()

	t.Run("GetCVE", func(t *testing.T) {
		item, err := s.GetCVE(ctx, "CVE-2021-3881")
		require.NoError(t, err)
		assert.Equal(t, "HIGH", item.Severity())

		_, err = s.GetCVE(ctx, "CVE-1999-0001")
		assert.True(t, xerrors.Is(err, store.ErrNotFound), err)
	})

	t.Run("GetProducts", func(t *testing.T) {
		got, err := s.GetProducts(ctx)
		require.NoError(t, err)
		assert.Equal(t, []cpe.Product{
			{Vendor: "openssl", Product: "openssl"},
			{Vendor: "nodejs", Product: "node.js"},
			{Vendor: "libmobi_project", Product: "libmobi"},
		}, got)
	})

	t.Run("SearchProducts", func(t *testing.T) {
		got, err := s.SearchProducts(ctx, "node")
		require.NoError(t, err)
		assert.Equal(t, []cpe.Product{{Vendor: "nodejs", Product: "node.js"}}, got)

		got, err = s.SearchProducts(ctx, "nothing")
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = s.SearchProducts(ctx, "bad query")
		assert.True(t, xerrors.Is(err, store.ErrInvalidQuery), err)
	})

	t.Run("SearchCVEs", func(t *testing.T) {
		got, err := s.SearchCVEs(ctx, nvd.NewQuery("openssl", "1.1.1e"))
		require.NoError(t, err)
		assert.Equal(t, []string{"CVE-2020-1967", "CVE-2021-3449"}, ids(got))

		matched, err := nvd.Match(ctx, got, nvd.NewQuery("openssl", "1.1.1e"), 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"CVE-2020-1967", "CVE-2021-3449"}, ids(matched))

		matched, err = nvd.Match(ctx, got, nvd.NewQuery("openssl", "1.1.1g"), 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"CVE-2021-3449"}, ids(matched))

		got, err = s.SearchCVEs(ctx, nvd.NewQuery("libressl", "1.0"))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("All", func(t *testing.T) {
		got, err := s.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"CVE-2020-1967", "CVE-2021-3449", "CVE-2021-3881"}, ids(got))
	})
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing directory", func(t *testing.T) {
		s := filestore.New("nvd", filestore.WithFs(afero.NewMemMapFs()))
		_, err := s.GetProducts(ctx)
		assert.True(t, xerrors.Is(err, store.ErrUnavailable), err)
	})

	t.Run("broken records are skipped", func(t *testing.T) {
		appFs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(appFs, filepath.Join("nvd", "2021", "CVE-2021-0001.json"), []byte("{"), os.ModePerm))
		require.NoError(t, afero.WriteFile(appFs, filepath.Join("nvd", "2021", "CVE-2021-0002.json"), []byte("[]"), os.ModePerm))
		require.NoError(t, afero.WriteFile(appFs, filepath.Join("nvd", "2021", "README.md"), []byte("#"), os.ModePerm))
		copyRecord(t, appFs, "2021", "CVE-2021-3881")

		s := filestore.New("nvd", filestore.WithFs(appFs))
		item, err := s.GetCVE(ctx, "CVE-2021-3881")
		require.NoError(t, err)
		assert.Equal(t, "CVE-2021-3881", item.ID())

		_, err = s.GetCVE(ctx, "CVE-2021-0001")
		assert.True(t, xerrors.Is(err, store.ErrNotFound), err)

		products, err := s.GetProducts(ctx)
		require.NoError(t, err)
		assert.Equal(t, []cpe.Product{{Vendor: "libmobi_project", Product: "libmobi"}}, products)

		// an export must not silently drop records
		_, err = s.All(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unable to parse CVE records")
		assert.Contains(t, err.Error(), "2 errors occurred")
	})

	t.Run("directory created after a failed load", func(t *testing.T) {
		appFs := afero.NewMemMapFs()
		s := filestore.New("nvd", filestore.WithFs(appFs))

		_, err := s.GetCVE(ctx, "CVE-2021-3881")
		assert.True(t, xerrors.Is(err, store.ErrUnavailable), err)

		copyRecord(t, appFs, "2021", "CVE-2021-3881")

		item, err := s.GetCVE(ctx, "CVE-2021-3881")
		require.NoError(t, err)
		assert.Equal(t, "CVE-2021-3881", item.ID())

		items, err := s.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"CVE-2021-3881"}, ids(items))
	})

	t.Run("concurrent first use", func(t *testing.T) {
		s := filestore.New(filepath.Join("testdata", "nvd"))
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := s.SearchCVEs(ctx, nvd.NewQuery("openssl", "1.1.1e"))
				assert.NoError(t, err)
				assert.Len(t, got, 2)
			}()
		}
		wg.Wait()
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		s := filestore.New(filepath.Join("testdata", "nvd"))
		_, err := s.All(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
