// Package writer stores exported tickets as one JSON file per ticket under
// <root>/<year>/<MonthName>/<DD>/<id>.json, bucketed by the ticket's last
// update date. Writes overwrite, so re-exporting a ticket is idempotent.
package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/ticket-export/pkg/client"
)

// Prometheus metrics for the export writer.
var (
	recordsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_export_records_written_total",
		Help: "Total number of ticket files written",
	})

	writeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_export_write_errors_total",
		Help: "Total number of ticket write failures by stage",
	}, []string{"stage"}) // "path", "mkdir", "encode", "write"
)

const (
	// FileExt is the extension of exported ticket files.
	FileExt = ".json"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Writer saves documents below an export root. It is safe for concurrent use.
type Writer struct {
	root   string
	logger zerolog.Logger

	// buckets this writer has already ensured, only used to avoid repeated
	// "creating directory" log lines
	mu      sync.Mutex
	created map[string]struct{}
}

// New creates a Writer for the given export root.
func New(root string) *Writer {
	return &Writer{
		root:    root,
		logger:  log.With().Str("component", "writer").Logger(),
		created: make(map[string]struct{}),
	}
}

// WithLogger returns the writer with a different logger.
func (w *Writer) WithLogger(logger zerolog.Logger) *Writer {
	w.logger = logger
	return w
}

// Root returns the export root.
func (w *Writer) Root() string {
	return w.root
}

// BucketDir returns the date bucket directory for t.
func BucketDir(root string, t time.Time) string {
	return filepath.Join(root,
		strconv.Itoa(t.Year()),
		t.Month().String(),
		fmt.Sprintf("%02d", t.Day()),
	)
}

// PathFor returns the file a document is written to.
func (w *Writer) PathFor(doc *client.Document) (string, error) {
	id, err := doc.ID()
	if err != nil {
		return "", err
	}
	updatedAt, err := doc.UpdatedAt()
	if err != nil {
		return "", err
	}
	return filepath.Join(BucketDir(w.root, updatedAt), strconv.FormatInt(id, 10)+FileExt), nil
}

// Save writes doc to its date bucket, replacing any previous export of the
// same ticket. Failures are logged and reported as false.
func (w *Writer) Save(doc *client.Document) (ok bool) {
	id, _ := doc.ID()

	defer func() {
		if r := recover(); r != nil {
			writeErrorsTotal.WithLabelValues("write").Inc()
			w.logger.Error().
				Int64("ticket_id", id).
				Interface("panic", r).
				Msgf("Save failed for ticket %d", id)
			ok = false
		}
	}()

	path, err := w.PathFor(doc)
	if err != nil {
		writeErrorsTotal.WithLabelValues("path").Inc()
		w.logger.Error().Err(err).Int64("ticket_id", id).Msgf("Save failed for ticket %d", id)
		return false
	}

	if err := w.ensureDir(filepath.Dir(path)); err != nil {
		writeErrorsTotal.WithLabelValues("mkdir").Inc()
		w.logger.Error().Err(err).Int64("ticket_id", id).Msgf("Save failed for ticket %d", id)
		return false
	}

	data, err := Encode(doc)
	if err != nil {
		writeErrorsTotal.WithLabelValues("encode").Inc()
		w.logger.Error().Err(err).Int64("ticket_id", id).Msgf("Save failed for ticket %d", id)
		return false
	}

	if err := writeFileAtomic(path, data); err != nil {
		writeErrorsTotal.WithLabelValues("write").Inc()
		w.logger.Error().Err(err).Int64("ticket_id", id).Msgf("Save failed for ticket %d", id)
		return false
	}

	recordsWrittenTotal.Inc()
	w.logger.Debug().
		Int64("ticket_id", id).
		Str("path", path).
		Msg("Ticket saved")

	return true
}

// ensureDir creates dir and its parents. An existing directory, including one
// created concurrently by another worker, is not an error.
func (w *Writer) ensureDir(dir string) error {
	w.mu.Lock()
	_, seen := w.created[dir]
	w.mu.Unlock()
	if seen {
		return os.MkdirAll(dir, dirPerm)
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		w.logger.Info().Str("dir", dir).Msgf("Creating directory: %s", dir)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create bucket directory: %w", err)
	}

	w.mu.Lock()
	w.created[dir] = struct{}{}
	w.mu.Unlock()
	return nil
}

// Encode renders a document as 2-space indented JSON with non-ASCII and HTML
// characters left unescaped. Object keys are sorted, so equal documents
// encode to equal bytes.
func Encode(doc *client.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc.Body()); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	// Encoder always terminates with a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partial document.
func writeFileAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// CountExported counts exported ticket files below root.
func CountExported(root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, FileExt) && !strings.HasPrefix(name, ".") {
			count++
		}
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("walk export root: %w", err)
	}
	return count, nil
}
