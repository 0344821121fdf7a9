package batch

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"pagepress/internal/export"
)

// artifactName 生成稳定、可读的产物文件名。
func artifactName(index int, spec InputSpec, format export.Format) string {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = strings.TrimSpace(spec.Prompt)
	}
	name = slugify(name)
	if name == "" {
		name = "document"
	}
	return fmt.Sprintf("%03d-%s.%s", index+1, name, format.Ext())
}

func slugify(s string) string {
	var sb strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		case !lastDash:
			sb.WriteByte('-')
			lastDash = true
		}
		if sb.Len() >= 48 {
			break
		}
	}
	return strings.Trim(sb.String(), "-")
}

// Package 将所有成功任务的产物打进一个 zip 包。
// Failed jobs are excluded; they stay visible in the result list with
// their reasons. Returns an error when nothing succeeded.
func Package(results []JobResult, format export.Format) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	packed := 0
	for _, r := range results {
		if r.Status != StatusSuccess || len(r.Artifact) == 0 {
			continue
		}
		w, err := zw.Create(artifactName(r.Index, r.Spec, format))
		if err != nil {
			return nil, fmt.Errorf("batch: create archive entry: %w", err)
		}
		if _, err := w.Write(r.Artifact); err != nil {
			return nil, fmt.Errorf("batch: write archive entry: %w", err)
		}
		packed++
	}
	if packed == 0 {
		return nil, fmt.Errorf("batch: no successful artifacts to package")
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("batch: close archive: %w", err)
	}
	return buf.Bytes(), nil
}
