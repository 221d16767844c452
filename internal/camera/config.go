package camera

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultConfigPath is where the camera configuration lives when the service
// config does not say otherwise.
const DefaultConfigPath = "config/camera_config.json"

// Config file constants.
const (
	configDirPermissions  = 0750
	configFilePermissions = 0600
	configIndent          = "  "
)

// Settings is the typed view of the camera configuration.
type Settings struct {
	CameraIndex int `json:"camera_index"`
	FrameWidth  int `json:"frame_width"`
	FrameHeight int `json:"frame_height"`
	FPS         int `json:"fps"`
}

// DefaultSettings returns the values used when the file is absent or a key is missing.
func DefaultSettings() Settings {
	return Settings{
		CameraIndex: 0,
		FrameWidth:  640,
		FrameHeight: 480,
		FPS:         30,
	}
}

// Params returns the capture parameters carried by the settings.
func (s Settings) Params() Params {
	return Params{Width: s.FrameWidth, Height: s.FrameHeight, FPS: s.FPS}
}

// defaultDocument returns the default configuration as a generic document.
func defaultDocument() map[string]any {
	d := DefaultSettings()
	return map[string]any{
		"camera_index": d.CameraIndex,
		"frame_width":  d.FrameWidth,
		"frame_height": d.FrameHeight,
		"fps":          d.FPS,
	}
}

// ConfigStore holds the camera configuration document and persists it to a
// JSON file after every write.
//
// The stored document is always the defaults merged with whatever the file
// contained: unknown keys are preserved and missing keys are filled in.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Concurrent writers are last-writer-wins.
type ConfigStore struct {
	path   string
	logger Logger

	mu     sync.RWMutex
	values map[string]any
}

// OpenConfigStore loads the configuration at path.
//
// A missing file is created with the defaults. An unreadable or malformed
// file is logged and the defaults are used in memory; the broken file is
// left untouched until the next successful Set.
//
// Parameters:
//   - path: Location of the JSON configuration file
//   - logger: Optional logger (nil disables logging)
//
// Returns:
//   - *ConfigStore: Store ready for use; never nil
func OpenConfigStore(path string, logger Logger) *ConfigStore {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &ConfigStore{path: path, logger: logger}
	s.values = s.load()
	return s
}

// Path returns the file backing the store.
func (s *ConfigStore) Path() string {
	return s.path
}

func (s *ConfigStore) load() map[string]any {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		values := defaultDocument()
		if saveErr := writeDocument(s.path, values); saveErr != nil {
			s.logger.Error("failed to create camera config", "path", s.path, "error", saveErr)
		} else {
			s.logger.Info("created default camera config", "path", s.path)
		}
		return values
	}
	if err != nil {
		s.logger.Error("failed to read camera config, using defaults", "path", s.path, "error", err)
		return defaultDocument()
	}

	custom, err := decodeDocument(data)
	if err != nil {
		s.logger.Error("failed to parse camera config, using defaults", "path", s.path, "error", err)
		return defaultDocument()
	}

	return Merge(defaultDocument(), custom)
}

// Get returns the value at a dot-separated path, or def when any segment is
// missing or the walk reaches a value that is not a mapping.
//
// Example:
//
//	fps := store.Get("fps", 15)               // 30 with default config
//	gain := store.Get("exposure.gain", 1.0)   // 1.0 unless set
func (s *ConfigStore) Get(path string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := lookup(s.values, path)
	if !ok {
		return def
	}
	return cloneValue(v)
}

// Lookup is like Get but reports whether the path exists.
func (s *ConfigStore) Lookup(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := lookup(s.values, path)
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Set stores value at a dot-separated path and persists the whole document.
//
// The store keeps its own copy of value, in the form a reload of the file
// would produce; later changes to the caller's value are not seen. Missing
// intermediate mappings are created. The in-memory document keeps the new
// value even when persisting fails.
//
// Returns:
//   - error: ErrInvalidPath, ErrPathConflict, ErrUnencodable, or the wrapped
//     I/O failure
func (s *ConfigStore) Set(path string, value any) error {
	_, err := s.put(path, value)
	return err
}

// put is Set returning the stored copy of value.
func (s *ConfigStore) put(path string, value any) (any, error) {
	keys, err := splitPath(path)
	if err != nil {
		s.logger.Error("rejected camera config update", "path", path, "error", err)
		return nil, err
	}
	stored, err := detach(value)
	if err != nil {
		s.logger.Error("rejected camera config update", "path", path, "error", err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.values
	for _, key := range keys[:len(keys)-1] {
		next, exists := node[key]
		if !exists {
			child := make(map[string]any)
			node[key] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			err := fmt.Errorf("%w: %q at segment %q", ErrPathConflict, path, key)
			s.logger.Error("rejected camera config update", "path", path, "error", err)
			return nil, err
		}
		node = child
	}
	node[keys[len(keys)-1]] = stored

	if err := writeDocument(s.path, s.values); err != nil {
		s.logger.Error("failed to save camera config", "path", s.path, "error", err)
		return stored, err
	}
	return stored, nil
}

// detach returns a private copy of v as it would read back from the file.
func detach(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnencodable, err)
	}
	return DecodeValue(data)
}

// Document returns a deep copy of the whole configuration.
func (s *ConfigStore) Document() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMap(s.values)
}

// Settings returns the typed view of the configuration.
// Values of the wrong type fall back to their defaults.
func (s *ConfigStore) Settings() Settings {
	d := DefaultSettings()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Settings{
		CameraIndex: intValue(s.values["camera_index"], d.CameraIndex),
		FrameWidth:  intValue(s.values["frame_width"], d.FrameWidth),
		FrameHeight: intValue(s.values["frame_height"], d.FrameHeight),
		FPS:         intValue(s.values["fps"], d.FPS),
	}
}

// Merge overlays custom onto defaults and returns a new document.
//
// Nested mappings are merged recursively only when both sides hold a mapping
// for the same key; in every other case the custom value wins. Every key of
// defaults is present in the result. Neither argument is modified.
func Merge(defaults, custom map[string]any) map[string]any {
	result := make(map[string]any, len(defaults)+len(custom))
	for k, v := range defaults {
		result[k] = cloneValue(v)
	}
	for k, v := range custom {
		if dv, ok := result[k].(map[string]any); ok {
			if cv, ok := v.(map[string]any); ok {
				result[k] = Merge(dv, cv)
				continue
			}
		}
		result[k] = cloneValue(v)
	}
	return result
}

// ParseValue interprets raw text as a JSON value, falling back to the raw
// string when it is not valid JSON. Integral numbers become int.
//
// Example:
//
//	ParseValue("25")        // 25
//	ParseValue(`{"a":1}`)   // map[string]any{"a": 1}
//	ParseValue("usb-cam")   // "usb-cam"
func ParseValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return normalize(v)
}

// DecodeValue decodes one JSON value with integral numbers normalised to int.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	return normalize(v), nil
}

// decodeDocument parses a configuration file body into a mapping.
func decodeDocument(data []byte) (map[string]any, error) {
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %T, want object", v)
	}
	return doc, nil
}

// writeDocument persists the document atomically: the JSON is written to a
// temporary file in the same directory and renamed over the target.
func writeDocument(path string, doc map[string]any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", configIndent)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding camera config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".camera_config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close() //nolint:errcheck // write error takes precedence
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Chmod(tmpName, configFilePermissions); err != nil {
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

// splitPath validates and splits a dot-separated path.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}
	keys := strings.Split(path, ".")
	for _, k := range keys {
		if k == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
	}
	return keys, nil
}

func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalize converts json.Number leaves into int or float64.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	default:
		return v
	}
}

func intValue(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n == math.Trunc(n) {
			return int(n)
		}
	}
	return def
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}
