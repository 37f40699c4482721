// Package password — одностороннее хеширование паролей (argon2id).
// Хеш хранится в PHC-формате: $argon2id$v=19$m=...,t=...,p=...$salt$digest —
// соль и параметры внутри строки, Verify не требует внешнего состояния.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrCorruptHash — хеш в хранилище повреждён или имеет неизвестный формат.
// Вызывающий код трактует это как неуспешную проверку, не как фатальную ошибку.
var ErrCorruptHash = errors.New("corrupt credential hash")

// Параметры argon2id: m=64MiB, t=3, p=2, 32 байта дайджеста, 16 байт соли.
const (
	memoryKiB   = 64 * 1024
	iterations  = 3
	parallelism = 2
	saltLen     = 16
	digestLen   = 32
)

// Hash хеширует пароль со свежей случайной солью.
// Открытый пароль после возврата нигде не сохраняется и не логируется.
func Hash(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password.Hash: salt: %w", err)
	}
	digest := argon2.IDKey([]byte(plaintext), salt, iterations, memoryKiB, parallelism, digestLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memoryKiB, iterations, parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// Verify пересчитывает дайджест по соли и параметрам из encoded и сравнивает
// constant-time. Повреждённый encoded возвращает ErrCorruptHash.
func Verify(plaintext, encoded string) (bool, error) {
	salt, digest, m, t, p, err := parse(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(plaintext), salt, t, m, p, uint32(len(digest)))
	return subtle.ConstantTimeCompare(got, digest) == 1, nil
}

// parse разбирает PHC-строку argon2id.
func parse(encoded string) (salt, digest []byte, m uint32, t uint32, p uint8, err error) {
	parts := strings.Split(encoded, "$")
	// ["", "argon2id", "v=19", "m=..,t=..,p=..", salt, digest]
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, ErrCorruptHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, nil, 0, 0, 0, ErrCorruptHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return nil, nil, 0, 0, 0, ErrCorruptHash
	}
	if m == 0 || t == 0 || p == 0 {
		return nil, nil, 0, 0, 0, ErrCorruptHash
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, nil, 0, 0, 0, ErrCorruptHash
	}
	digest, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(digest) == 0 {
		return nil, nil, 0, 0, 0, ErrCorruptHash
	}
	return salt, digest, m, t, p, nil
}

// DummyHash — хеш случайного пароля для выравнивания времени ответа логина,
// когда аккаунт не найден (иначе отсутствие Verify выдаёт существование email).
func DummyHash() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	h, _ := Hash(base64.RawStdEncoding.EncodeToString(buf))
	return h
}
