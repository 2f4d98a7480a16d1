package persist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"pkt.systems/pslog"
	"pkt.systems/webbox/schema"
)

const (
	embedsDir    = "embeds"
	documentsDir = "documents"
	eventsFile   = "events.jsonl"
)

// DocumentRecord is the saved derivative of an embed.
type DocumentRecord struct {
	ID      schema.DocumentID `json:"id"`
	EmbedID schema.EmbedID    `json:"embed_id"`
	Code    map[string]string `json:"code"`
	Updated time.Time         `json:"updated"`
}

// Options configure a Store.
type Options struct {
	// Seal encrypts embeds and documents at rest with the key store at
	// KeyStorePath.
	Seal         bool
	KeyStorePath string
	Logger       pslog.Logger
}

// Store persists embeds, their documents and the event log on disk.
type Store struct {
	dir    string
	sealer *sealer
	log    pslog.Logger

	mu sync.Mutex
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string, opts Options) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	for _, sub := range []string{embedsDir, documentsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	s := &Store{dir: dir, log: logger}
	if opts.Seal {
		sealer, err := newSealer(opts.KeyStorePath, logger)
		if err != nil {
			return nil, err
		}
		s.sealer = sealer
	}
	return s, nil
}

func (s *Store) logger(ctx context.Context) pslog.Logger {
	if s.log != nil {
		return s.log
	}
	return pslog.Ctx(ctx)
}

// PutEmbed validates and stores an embed, replacing any previous version.
// A document carried by the embed is stored alongside.
func (s *Store) PutEmbed(ctx context.Context, embed schema.Embed) error {
	if err := schema.ValidateEmbed(embed); err != nil {
		s.logger(ctx).Warn("embed put rejected", "embed", embed.ID, "err", err)
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := embed.Document
	embed.Document = nil
	if err := s.writeJSON(s.embedPath(embed.ID), descriptorEmbeds, embed); err != nil {
		s.logger(ctx).Warn("embed put failed", "embed", embed.ID, "err", err)
		return err
	}
	if doc != nil {
		record := DocumentRecord{ID: doc.ID, EmbedID: embed.ID, Code: doc.Code, Updated: time.Now().UTC()}
		if err := s.writeJSON(s.documentPath(embed.ID), descriptorDocuments, record); err != nil {
			s.logger(ctx).Warn("embed put failed", "embed", embed.ID, "err", err)
			return err
		}
	}
	s.logger(ctx).Debug("embed put ok", "embed", embed.ID, "files", len(embed.Code))
	return nil
}

// GetEmbed loads an embed together with its latest document.
func (s *Store) GetEmbed(ctx context.Context, id schema.EmbedID) (schema.Embed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var embed schema.Embed
	ok, err := s.readJSON(s.embedPath(id), descriptorEmbeds, &embed)
	if err != nil {
		s.logger(ctx).Warn("embed load failed", "embed", id, "err", err)
		return schema.Embed{}, err
	}
	if !ok {
		s.logger(ctx).Debug("embed load miss", "embed", id)
		return schema.Embed{}, fmt.Errorf("%w: %s", schema.ErrEmbedNotFound, id)
	}
	var record DocumentRecord
	ok, err = s.readJSON(s.documentPath(id), descriptorDocuments, &record)
	if err != nil {
		s.logger(ctx).Warn("embed document load failed", "embed", id, "err", err)
		return schema.Embed{}, err
	}
	if ok {
		embed.Document = &schema.Document{ID: record.ID, Code: record.Code}
	}
	return embed, nil
}

// SaveEmbed stores code as the embed's document. The document id is kept
// across saves.
func (s *Store) SaveEmbed(ctx context.Context, id schema.EmbedID, req schema.SaveEmbedRequest) (schema.SaveEmbedResponse, error) {
	log := s.logger(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists(s.embedPath(id)) {
		log.Debug("embed save rejected", "embed", id, "reason", "not found")
		return schema.SaveEmbedResponse{Error: "Beispiel nicht gefunden"}, nil
	}
	var record DocumentRecord
	if _, err := s.readJSON(s.documentPath(id), descriptorDocuments, &record); err != nil {
		log.Warn("embed save failed", "embed", id, "err", err)
		return schema.SaveEmbedResponse{}, err
	}
	if record.ID == "" {
		record.ID = schema.DocumentID(uuid.NewString())
	}
	record.EmbedID = id
	record.Code = req.Code
	record.Updated = time.Now().UTC()
	if err := s.writeJSON(s.documentPath(id), descriptorDocuments, record); err != nil {
		log.Warn("embed save failed", "embed", id, "err", err)
		return schema.SaveEmbedResponse{}, err
	}
	log.Info("embed save ok", "embed", id, "document", record.ID, "files", len(req.Code))
	return schema.SaveEmbedResponse{Document: &schema.DocumentRef{ID: record.ID, Code: record.Code}}, nil
}

// UpdateEmbed replaces the attributes of an existing embed. Refusals are
// reported in the response.
func (s *Store) UpdateEmbed(ctx context.Context, id schema.EmbedID, embed schema.Embed) (schema.APIResponse, error) {
	log := s.logger(ctx)
	if embed.ID == "" {
		embed.ID = id
	}
	if embed.ID != id {
		return schema.APIResponse{Error: "embed id mismatch"}, nil
	}
	if err := schema.ValidateEmbed(embed); err != nil {
		log.Debug("embed update rejected", "embed", id, "err", err)
		return schema.APIResponse{Error: err.Error()}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists(s.embedPath(id)) {
		return schema.APIResponse{Error: "Beispiel nicht gefunden"}, nil
	}
	embed.Document = nil
	if err := s.writeJSON(s.embedPath(id), descriptorEmbeds, embed); err != nil {
		log.Warn("embed update failed", "embed", id, "err", err)
		return schema.APIResponse{}, err
	}
	log.Info("embed update ok", "embed", id)
	return schema.APIResponse{}, nil
}

// DeleteEmbed removes an embed and its document.
func (s *Store) DeleteEmbed(ctx context.Context, id schema.EmbedID) (schema.APIResponse, error) {
	log := s.logger(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists(s.embedPath(id)) {
		return schema.APIResponse{Error: "Beispiel nicht gefunden"}, nil
	}
	for _, path := range []string{s.documentPath(id), s.embedPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("embed delete failed", "embed", id, "err", err)
			return schema.APIResponse{}, err
		}
	}
	log.Info("embed delete ok", "embed", id)
	return schema.APIResponse{}, nil
}

// AppendEvent records a telemetry event as one JSON line.
func (s *Store) AppendEvent(ctx context.Context, event schema.EventLog) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.dir, eventsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.logger(ctx).Warn("event append failed", "err", err)
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		s.logger(ctx).Warn("event append failed", "err", err)
		return err
	}
	s.logger(ctx).Trace("event append ok", "event", event.Name, "embed", event.Context.EmbedID)
	return f.Close()
}

// Events returns the recorded events, oldest first.
func (s *Store) Events(ctx context.Context) ([]schema.EventLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(filepath.Join(s.dir, eventsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var out []schema.EventLog
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event schema.EventLog
		if err := json.Unmarshal(line, &event); err != nil {
			s.logger(ctx).Warn("event decode failed", "err", err)
			continue
		}
		out = append(out, event)
	}
	return out, scanner.Err()
}

func (s *Store) exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *Store) readJSON(path, descriptor string, v any) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer func() { _ = f.Close() }()
	var r io.Reader = f
	if s.sealer != nil {
		plain, err := s.sealer.open(f, descriptor)
		if err != nil {
			return false, err
		}
		defer func() { _ = plain.Close() }()
		r = plain
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return false, err
	}
	return true, nil
}

// writeJSON replaces path atomically.
func (s *Store) writeJSON(path, descriptor string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "state-*.json")
	if err != nil {
		return err
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return err
	}
	var w io.WriteCloser = nopWriteCloser{tmp}
	if s.sealer != nil {
		w, err = s.sealer.seal(tmp, descriptor)
		if err != nil {
			cleanup()
			return err
		}
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		cleanup()
		return err
	}
	if err := w.Close(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (s *Store) embedPath(id schema.EmbedID) string {
	return filepath.Join(s.dir, embedsDir, fileName(string(id)))
}

func (s *Store) documentPath(id schema.EmbedID) string {
	return filepath.Join(s.dir, documentsDir, fileName(string(id)))
}

func fileName(id string) string {
	name := sanitize(id)
	if name == "" {
		name = "unknown"
	}
	return name + ".json"
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
