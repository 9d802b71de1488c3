package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// settingsFile is the on-disk shape of the persisted preferences.
type settingsFile struct {
	Version      int     `json:"version"`
	SoundEnabled bool    `json:"sound_enabled"`
	Volume       float64 `json:"volume"`
}

// Store persists notification preferences across sessions. It implements
// interfaces.Settings. Writes go through a temp file and rename so a
// crash mid-write cannot corrupt the stored state.
type Store struct {
	mu           sync.Mutex
	path         string
	soundEnabled bool
	volume       float64
}

// NewStore opens (or initializes) the settings store at path, seeding
// missing values from cfg. An empty path keeps settings in memory only.
func NewStore(path string, cfg *Config) *Store {
	s := &Store{
		path:         path,
		soundEnabled: cfg.SoundEnabled,
		volume:       cfg.Volume,
	}
	s.load()
	return s
}

// SoundEnabled reports the persisted enable flag.
func (s *Store) SoundEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.soundEnabled
}

// SetSoundEnabled persists the enable flag.
func (s *Store) SetSoundEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.soundEnabled = enabled
	s.saveLocked()
}

// Volume reports the persisted cue volume.
func (s *Store) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetVolume persists the cue volume.
func (s *Store) SetVolume(volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = volume
	s.saveLocked()
}

func (s *Store) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithFields(logrus.Fields{
				"function": "Store.load",
				"path":     s.path,
				"error":    err.Error(),
			}).Warn("Failed to read settings file, using defaults")
		}
		return
	}

	var sf settingsFile
	if err := json.Unmarshal(data, &sf); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Store.load",
			"path":     s.path,
			"error":    err.Error(),
		}).Warn("Settings file corrupt, using defaults")
		return
	}

	s.soundEnabled = sf.SoundEnabled
	s.volume = sf.Volume
}

func (s *Store) saveLocked() {
	if s.path == "" {
		return
	}
	sf := settingsFile{Version: 1, SoundEnabled: s.soundEnabled, Volume: s.volume}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Store.saveLocked",
			"error":    err.Error(),
		}).Warn("Failed to marshal settings")
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Store.saveLocked",
			"path":     s.path,
			"error":    err.Error(),
		}).Warn("Failed to create settings directory")
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Store.saveLocked",
			"path":     tmp,
			"error":    err.Error(),
		}).Warn("Failed to write settings temp file")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		logrus.WithFields(logrus.Fields{
			"function": "Store.saveLocked",
			"path":     s.path,
			"error":    err.Error(),
		}).Warn("Failed to replace settings file")
	}
}
