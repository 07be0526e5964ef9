package upload

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/crypto/blake2b"

	"coursecache/pkg/storage"
)

// stagedFile describes bytes copied into the staging store.
type stagedFile struct {
	Key         string
	ContentHash string
	Size        int64
	PageCount   int
}

// stageFile copies the file at path into the staging store under a
// content-addressed key. Two queued uploads of identical bytes share one
// staged object. The digest pass reads the file once before the copy; both
// passes stream, nothing buffers whole files in memory.
func stageFile(ctx context.Context, objects storage.ObjectStore, path, contentType string) (stagedFile, error) {
	digest, size, err := hashFile(path)
	if err != nil {
		return stagedFile{}, err
	}
	key := "staging/" + digest
	file, err := os.Open(path)
	if err != nil {
		return stagedFile{}, fmt.Errorf("open staging source: %w", err)
	}
	defer file.Close()
	if err := objects.Put(ctx, key, file, size, contentType); err != nil {
		return stagedFile{}, fmt.Errorf("stage bytes: %w", err)
	}
	staged := stagedFile{Key: key, ContentHash: digest, Size: size}
	if isPDF(path, contentType) {
		// Best effort; a malformed PDF still uploads, just without a count.
		if n, err := pdfPageCount(path); err == nil {
			staged.PageCount = n
		}
	}
	return staged, nil
}

func hashFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open staging source: %w", err)
	}
	defer file.Close()
	hasher, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(hasher, file)
	if err != nil {
		return "", 0, fmt.Errorf("hash staging source: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

func isPDF(path, contentType string) bool {
	return contentType == "application/pdf" || strings.HasSuffix(strings.ToLower(path), ".pdf")
}

func pdfPageCount(path string) (int, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return reader.NumPage(), nil
}
