package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"memledger/protocol/params"

	"golang.org/x/crypto/argon2"
)

// keystoreData is the plaintext inside an encrypted keystore file.
type keystoreData struct {
	Version    uint32 `json:"version"`
	Network    string `json:"network"`
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
	CreatedAt  int64  `json:"created_at"`
}

// SaveKeystore encrypts the wallet key with password and atomically replaces
// filename with a 0600 file.
func SaveKeystore(filename string, password []byte, w *Wallet) error {
	if len(password) == 0 {
		return errors.New("keystore password is empty")
	}
	data := keystoreData{
		Version:    1,
		Network:    params.NetworkID,
		Address:    w.Address(),
		PrivateKey: w.ExportPrivateKey(),
		CreatedAt:  time.Now().Unix(),
	}
	plaintext, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal keystore: %w", err)
	}
	defer wipeBytes(plaintext)

	encrypted, err := encrypt(plaintext, password)
	if err != nil {
		return fmt.Errorf("failed to encrypt keystore: %w", err)
	}

	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create keystore directory: %w", err)
		}
	}
	return writeFileAtomic(filename, encrypted)
}

// writeFileAtomic writes data to a fresh 0600 temp file beside filename and
// renames it into place, so readers see either the old or the new keystore.
func writeFileAtomic(filename string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to open temp keystore file: %w", err)
	}
	tmp := f.Name()

	if err := f.Chmod(0600); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to set keystore permissions: %w", err)
	}
	_, writeErr := f.Write(data)
	if writeErr == nil {
		writeErr = f.Sync()
	}
	closeErr := f.Close()
	if writeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write keystore file: %w", writeErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close keystore file: %w", closeErr)
	}

	if err := os.Rename(tmp, filename); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize keystore file: %w", err)
	}
	return nil
}

// LoadKeystore decrypts a keystore file and rebuilds the wallet.
func LoadKeystore(filename string, password []byte) (*Wallet, error) {
	encrypted, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}

	plaintext, err := decrypt(encrypted, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore (wrong password?): %w", err)
	}
	defer wipeBytes(plaintext)

	var data keystoreData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}
	if data.Network != params.NetworkID {
		return nil, fmt.Errorf("keystore belongs to network %q, want %q", data.Network, params.NetworkID)
	}

	w, err := Import(data.PrivateKey)
	if err != nil {
		return nil, err
	}
	if w.Address() != data.Address {
		return nil, fmt.Errorf("keystore address mismatch: file=%s derived=%s", data.Address, w.Address())
	}
	return w, nil
}

// ============================================================================
// Encryption helpers (Argon2id + AES-GCM)
// ============================================================================

type kdfParams struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
}

const (
	keystoreMagic = "MLEDGKS1" // 8 bytes

	keystoreFormatVersion uint8 = 1

	keystoreSaltLen = 16
	keystoreKeyLen  = 32

	// Header = magic(8) + formatVer(1) + time(4) + memKiB(4) + threads(1) + reserved(2)
	keystoreHeaderLen = 8 + 1 + 4 + 4 + 1 + 2

	// Upper bounds for header KDF parameters, checked before deriving the
	// key because the header is only authenticated afterwards.
	keystoreMaxKDFTime   = 16
	keystoreMaxKDFMemory = 1 << 20 // KiB, 1 GiB
)

// defaultKDFParams are written into every new keystore header; decrypt
// reads the parameters back from the header.
var defaultKDFParams = kdfParams{
	Time:    3,
	Memory:  64 * 1024, // 64 MiB
	Threads: 4,
}

func deriveKey(password, salt []byte, p kdfParams) []byte {
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, keystoreKeyLen)
}

func encrypt(plaintext, password []byte) ([]byte, error) {
	salt := make([]byte, keystoreSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	p := defaultKDFParams
	key := deriveKey(password, salt, p)
	defer wipeBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	header := make([]byte, keystoreHeaderLen)
	copy(header[0:8], keystoreMagic)
	header[8] = keystoreFormatVersion
	binary.BigEndian.PutUint32(header[9:13], p.Time)
	binary.BigEndian.PutUint32(header[13:17], p.Memory)
	header[17] = p.Threads

	// The header is authenticated so KDF parameters cannot be swapped.
	ciphertext := gcm.Seal(nil, nonce, plaintext, header)

	// header || salt || nonce || ciphertext
	result := make([]byte, 0, len(header)+len(salt)+len(nonce)+len(ciphertext))
	result = append(result, header...)
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

func decrypt(data, password []byte) ([]byte, error) {
	if len(data) < keystoreHeaderLen+keystoreSaltLen {
		return nil, errors.New("ciphertext too short")
	}
	if string(data[:8]) != keystoreMagic {
		return nil, errors.New("not a keystore file")
	}
	if v := data[8]; v != keystoreFormatVersion {
		return nil, fmt.Errorf("unsupported keystore format version: %d", v)
	}

	header := data[:keystoreHeaderLen]
	p := kdfParams{
		Time:    binary.BigEndian.Uint32(data[9:13]),
		Memory:  binary.BigEndian.Uint32(data[13:17]),
		Threads: data[17],
	}
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return nil, errors.New("invalid keystore kdf parameters")
	}
	if p.Time > keystoreMaxKDFTime || p.Memory > keystoreMaxKDFMemory {
		return nil, fmt.Errorf("keystore kdf parameters exceed limits: time=%d memory=%dKiB", p.Time, p.Memory)
	}

	off := keystoreHeaderLen
	salt := data[off : off+keystoreSaltLen]
	off += keystoreSaltLen

	key := deriveKey(password, salt, p)
	defer wipeBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < off+gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := data[off : off+gcm.NonceSize()]
	ciphertext := data[off+gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, header)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
