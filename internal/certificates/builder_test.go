package certificates

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubRenderer struct {
	lastHTML string
}

func (r *stubRenderer) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	r.lastHTML = html
	return []byte("%PDF-1.4 stub"), nil
}

func TestBuildHTMLContainsCaseFields(t *testing.T) {
	html, err := BuildHTML(CertificateData{
		CaseNumber:    "PA-2601-0007",
		RequestType:   "IMPORTACAO",
		RequesterName: "Empresa Lda",
		RequesterNIF:  "5401123456",
		TotalValue:    4_500_000,
		FeePaid:       27_000,
		ApprovedAt:    time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Contains(t, html, "PA-2601-0007")
	require.Contains(t, html, "Empresa Lda")
	require.Contains(t, html, "15/01/2026")
	require.Contains(t, html, "Kz")
}

func TestGenerateWritesPDF(t *testing.T) {
	renderer := &stubRenderer{}
	b := NewBuilder(renderer, t.TempDir())

	path, err := b.Generate(context.Background(), CertificateData{
		CaseNumber: "PA-2601-0001",
		ApprovedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, "certificado-PA-2601-0001.pdf", filepath.Base(path))
	require.FileExists(t, path)
	require.NotEmpty(t, renderer.lastHTML)
}
