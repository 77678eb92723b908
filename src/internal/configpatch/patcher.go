package configpatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ssalihsrz/openclaw/src/internal/fsutil"
	"github.com/ssalihsrz/openclaw/src/internal/logging"
)

// SessionStorePath is the field holding the reply session store location.
var SessionStorePath = []string{"inbound", "reply", "session", "store"}

// writeMu serializes read-modify-write cycles within this process.
var writeMu sync.Mutex

// SetPath sets fieldPath in the JSON document at docPath to value.
//
// A missing document is created along with its directory. A document that
// cannot be parsed is replaced by one holding only the new field. The new
// content is fully encoded before the file is replaced atomically.
func SetPath(docPath string, fieldPath []string, value any) error {
	writeMu.Lock()
	defer writeMu.Unlock()

	doc, err := load(docPath)
	if err != nil {
		return err
	}
	if err := doc.Set(fieldPath, value); err != nil {
		return err
	}
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode config document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(docPath), 0700); err != nil {
		return fmt.Errorf("%w: create directory for %s: %w", ErrConfigIO, docPath, err)
	}
	if err := fsutil.WriteFileAtomic(docPath, data, 0600); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrConfigIO, docPath, err)
	}
	logging.Debug("config document updated", "path", docPath, "field", fieldPath)
	return nil
}

// SetSessionStore records the session store location.
func SetSessionStore(docPath string, store string) error {
	return SetPath(docPath, SessionStorePath, store)
}

// SessionStore returns the configured session store location, or "" if unset.
func SessionStore(docPath string) (string, error) {
	doc, err := load(docPath)
	if err != nil {
		return "", err
	}
	store, _ := doc.GetString(SessionStorePath...)
	return store, nil
}

// load reads the document at docPath. Missing and malformed documents are
// returned as empty documents.
func load(docPath string) (Document, error) {
	// #nosec G304 -- document path comes from settings
	data, err := os.ReadFile(docPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrConfigIO, docPath, err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		logging.Warn("ignoring malformed config document", "path", docPath, "error", err)
		return Document{}, nil
	}
	return doc, nil
}
