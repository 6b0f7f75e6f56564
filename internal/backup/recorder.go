package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"ec2restore.io/ec2-restore-cli/internal/cloud"
	"ec2restore.io/ec2-restore-cli/internal/crypto"
)

const timestampLayout = "20060102_150405"

// Record is the point-in-time description of an instance, written
// before any mutation so the pre-restore state survives the restore.
type Record struct {
	InstanceID      string          `json:"InstanceId"`
	InstanceName    string          `json:"InstanceName"`
	InstanceDetails *cloud.Instance `json:"InstanceDetails"`
}

// Recorder writes and reads backup records under a directory.
type Recorder struct {
	dir       string
	encryptor *crypto.AgeEncryptor
	decryptor *crypto.AgeDecryptor
	logger    log.FieldLogger
	now       func() time.Time
}

// Opt adjusts a Recorder.
type Opt func(*Recorder)

// WithEncryptor makes the recorder write age-encrypted records.
func WithEncryptor(enc *crypto.AgeEncryptor) Opt {
	return func(r *Recorder) { r.encryptor = enc }
}

// WithDecryptor lets the recorder read age-encrypted records.
func WithDecryptor(dec *crypto.AgeDecryptor) Opt {
	return func(r *Recorder) { r.decryptor = dec }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Opt {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder rooted at dir.
func NewRecorder(dir string, logger log.FieldLogger, opts ...Opt) *Recorder {
	r := &Recorder{
		dir:    dir,
		logger: logger.WithField("component", "backup"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Capture persists a record of inst and returns the file path.
func (r *Recorder) Capture(inst *cloud.Instance) (string, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	record := Record{InstanceID: inst.ID, InstanceName: inst.Name(), InstanceDetails: inst}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup record: %w", err)
	}

	name := fmt.Sprintf("instance_%s_%s.json", inst.ID, r.now().Format(timestampLayout))
	if r.encryptor != nil {
		data, err = r.encryptor.Encrypt(data)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt backup record: %w", err)
		}
		name += ".age"
	}

	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup record: %w", err)
	}
	r.logger.WithFields(log.Fields{"instance": inst.ID, "path": path}).Info("backup record written")
	return path, nil
}

// Load reads one record from path, decrypting when needed.
func (r *Recorder) Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup record: %w", err)
	}

	if strings.HasSuffix(path, ".age") {
		if r.decryptor == nil {
			return nil, fmt.Errorf("backup record %s is encrypted and no decryption key is configured", path)
		}
		data, err = r.decryptor.DecryptAll(data)
		if err != nil {
			return nil, err
		}
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse backup record: %w", err)
	}
	return &record, nil
}

// Latest returns the newest record for an instance.
func (r *Recorder) Latest(instanceID string) (*Record, error) {
	entries, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.InstanceID == instanceID {
			return r.Load(e.Path)
		}
	}
	return nil, fmt.Errorf("no backup records found for instance %s", instanceID)
}

// Entry identifies one stored backup record.
type Entry struct {
	Path       string
	InstanceID string
	Timestamp  time.Time
	Encrypted  bool
}

// List returns the stored records, newest first.
func (r *Recorder) List() ([]Entry, error) {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var records []Entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		entry, ok := parseRecordName(e.Name())
		if !ok {
			continue
		}
		entry.Path = filepath.Join(r.dir, e.Name())
		records = append(records, entry)
	}

	// Newest first
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// parseRecordName parses instance_<id>_<timestamp>.json with an
// optional .age suffix.
func parseRecordName(name string) (Entry, bool) {
	var entry Entry
	if strings.HasSuffix(name, ".age") {
		entry.Encrypted = true
		name = strings.TrimSuffix(name, ".age")
	}
	if !strings.HasSuffix(name, ".json") {
		return Entry{}, false
	}
	name = strings.TrimSuffix(name, ".json")
	if !strings.HasPrefix(name, "instance_") {
		return Entry{}, false
	}

	parts := strings.Split(strings.TrimPrefix(name, "instance_"), "_")
	if len(parts) < 3 {
		return Entry{}, false
	}
	ts, err := time.Parse(timestampLayout, parts[len(parts)-2]+"_"+parts[len(parts)-1])
	if err != nil {
		return Entry{}, false
	}
	entry.InstanceID = strings.Join(parts[:len(parts)-2], "_")
	entry.Timestamp = ts
	return entry, true
}
