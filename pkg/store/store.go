// Package store persists enrolled identities for the terminal: the
// username → {pin, balance, embedding path} record file plus the per-user
// face image and embedding under the known-faces directory. Embeddings are
// optionally encrypted at rest using NaCl secretbox.
package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/faceteller/faceteller/pkg/logging"
	"github.com/faceteller/faceteller/pkg/recognition"
)

const (
	// NonceSize is the size of the secretbox nonce.
	NonceSize = 24
	// KeySize is the size of the secretbox key.
	KeySize = 32

	userDataFile  = "user_data.json"
	knownFacesDir = "known_faces"
	faceImageName = "face.jpg"
)

// Identity is one enrolled user's record.
type Identity struct {
	Username      string  `json:"username"`
	PIN           string  `json:"pin"`
	Balance       float64 `json:"balance"`
	EmbeddingPath string  `json:"embedding_path"`
	ImagePath     string  `json:"image_path"`
}

// ErrUserNotFound is returned when the user is not enrolled.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when the username is already taken.
var ErrUserExists = errors.New("username already exists")

// ErrNoEnrollment is returned when a record is created before a face
// capture has been persisted for the username.
var ErrNoEnrollment = errors.New("no face enrollment for user")

// ErrEncryption is returned when embedding encryption/decryption fails.
var ErrEncryption = errors.New("embedding encryption error")

// Store owns the identity record file and the known-faces directory.
// Writers are serialized by a mutex; readers on the recognition hot path
// go through the immutable Gallery snapshot instead (gallery.go).
type Store struct {
	mu        sync.Mutex
	dataDir   string
	encrypted bool
	key       [KeySize]byte

	gallery snapshot
	log     interface {
		Infof(format string, args ...interface{})
		Warnf(format string, args ...interface{})
	}
}

// NewStore opens (or initializes) a store rooted at dataDir and loads the
// initial gallery snapshot.
func NewStore(dataDir string, encrypted bool) (*Store, error) {
	s := &Store{
		dataDir:   dataDir,
		encrypted: encrypted,
		log:       logging.Component("store"),
	}

	if encrypted {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		s.key = key
	}

	if err := os.MkdirAll(filepath.Join(dataDir, knownFacesDir), 0700); err != nil {
		return nil, fmt.Errorf("failed to create known faces directory: %w", err)
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// deriveKey derives the at-rest encryption key from machine identity, tying
// stored embeddings to this host.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("faceteller-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])
	return key, nil
}

func (s *Store) recordPath() string {
	return filepath.Join(s.dataDir, userDataFile)
}

func (s *Store) userDir(username string) string {
	return filepath.Join(s.dataDir, knownFacesDir, username)
}

func (s *Store) embeddingPath(username string) string {
	name := username + "_embedding.json"
	if s.encrypted {
		name = username + "_embedding.enc"
	}
	return filepath.Join(s.userDir(username), name)
}

// readRecords loads the full identity map. Callers hold s.mu.
func (s *Store) readRecords() (map[string]Identity, error) {
	data, err := os.ReadFile(s.recordPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Identity{}, nil
		}
		return nil, fmt.Errorf("failed to read identity records: %w", err)
	}
	if len(data) == 0 {
		return map[string]Identity{}, nil
	}

	var records map[string]Identity
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse identity records: %w", err)
	}
	return records, nil
}

// writeRecords persists the full identity map. Callers hold s.mu.
func (s *Store) writeRecords(records map[string]Identity) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity records: %w", err)
	}
	if err := os.WriteFile(s.recordPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write identity records: %w", err)
	}
	return nil
}

// Get returns one identity record.
func (s *Store) Get(username string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecords()
	if err != nil {
		return Identity{}, err
	}
	id, ok := records[username]
	if !ok {
		return Identity{}, ErrUserNotFound
	}
	return id, nil
}

// PIN returns the stored PIN for a user. Used at verification time.
func (s *Store) PIN(username string) (string, error) {
	id, err := s.Get(username)
	if err != nil {
		return "", err
	}
	return id.PIN, nil
}

// SaveEnrollment persists a captured face image and its embedding under the
// user's directory, overwriting any previous capture. It does not create
// the identity record; AddIdentity completes enrollment once the operator
// supplies pin and balance.
func (s *Store) SaveEnrollment(username string, jpegImage []byte, embedding recognition.Descriptor) (imagePath string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.userDir(username)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create user directory: %w", err)
	}

	imagePath = filepath.Join(dir, faceImageName)
	if err := os.WriteFile(imagePath, jpegImage, 0600); err != nil {
		return "", fmt.Errorf("failed to write face image: %w", err)
	}

	data, err := json.Marshal(embedding)
	if err != nil {
		return "", fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if s.encrypted {
		if data, err = s.encrypt(data); err != nil {
			return "", fmt.Errorf("failed to encrypt embedding: %w", err)
		}
	}
	if err := os.WriteFile(s.embeddingPath(username), data, 0600); err != nil {
		return "", fmt.Errorf("failed to write embedding: %w", err)
	}

	s.log.Infof("saved enrollment capture for %s", username)
	return imagePath, nil
}

// HasEnrollment reports whether a face capture exists for the username.
func (s *Store) HasEnrollment(username string) bool {
	_, err := os.Stat(s.embeddingPath(username))
	return err == nil
}

// AddIdentity creates the identity record for a user whose face capture is
// already persisted, then refreshes the gallery snapshot.
func (s *Store) AddIdentity(username, pin string, balance float64) error {
	s.mu.Lock()

	if !s.hasEnrollmentLocked(username) {
		s.mu.Unlock()
		return ErrNoEnrollment
	}

	records, err := s.readRecords()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if _, exists := records[username]; exists {
		s.mu.Unlock()
		return ErrUserExists
	}

	records[username] = Identity{
		Username:      username,
		PIN:           pin,
		Balance:       balance,
		EmbeddingPath: s.embeddingPath(username),
		ImagePath:     filepath.Join(s.userDir(username), faceImageName),
	}
	if err := s.writeRecords(records); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.log.Infof("enrolled identity %s", username)
	return s.Reload()
}

func (s *Store) hasEnrollmentLocked(username string) bool {
	_, err := os.Stat(s.embeddingPath(username))
	return err == nil
}

// UpdateBalance sets a new balance for the user.
func (s *Store) UpdateBalance(username string, balance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecords()
	if err != nil {
		return err
	}
	id, ok := records[username]
	if !ok {
		return ErrUserNotFound
	}
	id.Balance = balance
	records[username] = id
	return s.writeRecords(records)
}

// loadEmbedding reads one user's stored embedding from disk.
func (s *Store) loadEmbedding(path string) (recognition.Descriptor, error) {
	var desc recognition.Descriptor

	data, err := os.ReadFile(path)
	if err != nil {
		return desc, err
	}
	if s.encrypted {
		if data, err = s.decrypt(data); err != nil {
			return desc, err
		}
	}
	if err := json.Unmarshal(data, &desc); err != nil {
		return desc, fmt.Errorf("failed to parse embedding: %w", err)
	}
	return desc, nil
}

// encrypt seals data with a random nonce prepended.
func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// decrypt opens data sealed by encrypt.
func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}
	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
