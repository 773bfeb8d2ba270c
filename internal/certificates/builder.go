package certificates

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/sgal-dev/sgal/internal/fees"
)

// CertificateData feeds the certificate template.
type CertificateData struct {
	CaseNumber    string
	RequestType   string
	RequesterName string
	RequesterNIF  string
	TotalValue    float64
	FeePaid       float64
	ApprovedAt    time.Time
}

var certificateTemplate = template.Must(template.New("certificate").Parse(`<!DOCTYPE html>
<html lang="pt">
<head><meta charset="utf-8"><title>Certificado {{.CaseNumber}}</title></head>
<body>
<h1>Certificado de Autorização Ambiental</h1>
<p>Processo: <strong>{{.CaseNumber}}</strong></p>
<p>Tipo: {{.RequestType}}</p>
<p>Requerente: {{.RequesterName}} (NIF {{.RequesterNIF}})</p>
<p>Valor total: {{.TotalValueFormatted}}</p>
<p>Taxa liquidada: {{.FeeFormatted}}</p>
<p>Aprovado em {{.ApprovedAtFormatted}}</p>
</body>
</html>`))

type templateData struct {
	CertificateData
	TotalValueFormatted string
	FeeFormatted        string
	ApprovedAtFormatted string
}

// PDFRenderer converts HTML into PDF bytes.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Builder renders and stores certificates.
type Builder struct {
	renderer   PDFRenderer
	storageDir string
}

// NewBuilder constructs a Builder writing into storageDir.
func NewBuilder(renderer PDFRenderer, storageDir string) *Builder {
	return &Builder{renderer: renderer, storageDir: storageDir}
}

// BuildHTML renders the certificate markup.
func BuildHTML(data CertificateData) (string, error) {
	var buf bytes.Buffer
	err := certificateTemplate.Execute(&buf, templateData{
		CertificateData:     data,
		TotalValueFormatted: fees.FormatLocal(data.TotalValue),
		FeeFormatted:        fees.FormatLocal(data.FeePaid),
		ApprovedAtFormatted: data.ApprovedAt.Format("02/01/2006"),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Generate renders the certificate PDF and writes it to the storage volume,
// returning the stored file's reference path.
func (b *Builder) Generate(ctx context.Context, data CertificateData) (string, error) {
	html, err := BuildHTML(data)
	if err != nil {
		return "", fmt.Errorf("certificates: build html: %w", err)
	}
	pdf, err := b.renderer.RenderHTML(ctx, html)
	if err != nil {
		return "", fmt.Errorf("certificates: render: %w", err)
	}
	if err := os.MkdirAll(b.storageDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("certificado-%s.pdf", data.CaseNumber)
	path := filepath.Join(b.storageDir, name)
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
