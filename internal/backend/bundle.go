package backend

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
)

// BundleResult summarises a QR zip export.
type BundleResult struct {
	Files   int
	Skipped []string
}

// BundleName is the download name for a class QR archive.
func BundleName(classID string) string {
	return fmt.Sprintf("QR_Kelas_%s.zip", classID)
}

// BundleClassQR writes every downloadable QR image of a class into a zip
// under QR_Kelas_<id>/. Images that fail to download are skipped.
func (c *Client) BundleClassQR(ctx context.Context, classID string, w io.Writer) (BundleResult, error) {
	codes, err := c.ClassQRCodes(ctx, classID)
	if err != nil {
		return BundleResult{}, err
	}

	var res BundleResult
	zw := zip.NewWriter(w)
	folder := fmt.Sprintf("QR_Kelas_%s/", classID)
	seen := make(map[string]int)
	for _, qr := range codes {
		if qr.Path == "" {
			continue
		}
		data, err := c.Fetch(ctx, qr.Path)
		if err != nil {
			log.Printf("qr bundle %s: skipping %s: %v", classID, qr.Path, err)
			res.Skipped = append(res.Skipped, qr.Path)
			continue
		}
		f, err := zw.Create(folder + uniqueName(fileName(qr.Path), seen))
		if err != nil {
			return res, err
		}
		if _, err := f.Write(data); err != nil {
			return res, err
		}
		res.Files++
	}
	return res, zw.Close()
}

func fileName(p string) string {
	name := path.Base(strings.TrimRight(p, "/"))
	if name == "" || name == "." || name == "/" {
		return "qr.png"
	}
	return name
}

func uniqueName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}
