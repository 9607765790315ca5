package evidence

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// ExportFormat is the closed export format set from spec §4.I, plus the
// `archive` addition from SPEC_FULL §4.I.
type ExportFormat string

const (
	FormatJSON        ExportFormat = "json"
	FormatSWGDEReport ExportFormat = "swgde-report"
	FormatArchive     ExportFormat = "archive"
)

// ExportOpts configures ExportPackage.
type ExportOpts struct {
	IncludeAudit bool
}

type jsonPackageExport struct {
	Package Package        `json:"package"`
	Items   []Item         `json:"items"`
	Audit   []AuditEntry   `json:"audit,omitempty"`
}

// ExportPackage renders a sealed package in the requested format.
func (m *Manager) ExportPackage(packageID string, format ExportFormat, opts ExportOpts) ([]byte, error) {
	m.mu.Lock()
	pkg, ok := m.packages[packageID]
	if !ok {
		m.mu.Unlock()
		return nil, errs.New(errs.NotFound, "package not found: "+packageID)
	}
	items := make([]Item, 0, len(pkg.ItemIDs))
	for _, id := range pkg.ItemIDs {
		if item, ok := m.items[id]; ok {
			items = append(items, *item)
		}
	}
	pkgCopy := *pkg
	m.mu.Unlock()

	switch format {
	case FormatJSON:
		return m.exportJSON(pkgCopy, items, opts)
	case FormatSWGDEReport:
		return m.exportSWGDE(pkgCopy, items), nil
	case FormatArchive:
		return m.exportArchive(pkgCopy, items)
	default:
		return nil, errs.New(errs.UnknownExportFormat, "evidence: unknown export format: "+string(format))
	}
}

func (m *Manager) exportJSON(pkg Package, items []Item, opts ExportOpts) ([]byte, error) {
	export := jsonPackageExport{Package: pkg, Items: items}
	if opts.IncludeAudit {
		export.Audit = m.GetAuditLog(AuditFilter{InvestigationID: pkg.InvestigationID})
	}
	buf, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "evidence: json export failed", err)
	}
	return buf, nil
}

func (m *Manager) exportSWGDE(pkg Package, items []Item) []byte {
	var b strings.Builder
	b.WriteString("DIGITAL FORENSIC EXAMINATION REPORT\n")
	b.WriteString("SWGDE Requirements for Report Writing Compliant\n\n")
	fmt.Fprintf(&b, "Package: %s\n", pkg.Name)
	fmt.Fprintf(&b, "Case ID: %s\n", pkg.CaseID)
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	b.WriteString("Hash Algorithm: SHA-256\n\n")
	for _, item := range items {
		fmt.Fprintf(&b, "Item %s (%s)\n", item.ID, item.Kind)
		fmt.Fprintf(&b, "  Hash: %s\n", item.Hash)
		b.WriteString("  Chain of custody:\n")
		for _, ce := range item.CustodyChain {
			fmt.Fprintf(&b, "    - %s at %s by %q\n", ce.Action, ce.Timestamp.UTC().Format(time.RFC3339), ce.Actor)
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// exportArchive zstd-compresses a tar of the package's item JSON files plus
// a manifest, matching the vault's on-disk layout (SPEC_FULL §4.I).
func (m *Manager) exportArchive(pkg Package, items []Item) ([]byte, error) {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	manifest, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "evidence: manifest encode failed", err)
	}
	if err := writeTarFile(tw, "manifest.json", manifest); err != nil {
		return nil, err
	}
	for _, item := range items {
		buf, err := json.MarshalIndent(item, "", "  ")
		if err != nil {
			return nil, errs.Wrap(errs.IllegalState, "evidence: item encode failed", err)
		}
		if err := writeTarFile(tw, "items/"+item.ID+".json", buf); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, errs.Wrap(errs.IllegalState, "evidence: tar close failed", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "evidence: zstd encoder init failed", err)
	}
	defer enc.Close()
	return enc.EncodeAll(tarBuf.Bytes(), nil), nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		return errs.Wrap(errs.IllegalState, "evidence: tar header write failed", err)
	}
	if _, err := tw.Write(data); err != nil {
		return errs.Wrap(errs.IllegalState, "evidence: tar write failed", err)
	}
	return nil
}
