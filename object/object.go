package object

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
)

type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeCommit ObjectType = "commit"
	TypeTree   ObjectType = "tree"
	TypeTag    ObjectType = "tag"
)

// IDSize is the length of a raw object id.
const IDSize = sha1.Size

type Object struct {
	Type ObjectType
	Data []byte
}

// Encode returns the canonical "<type> <len>\0<data>" form that the id is
// computed over.
func Encode(obj *Object) []byte {
	header := fmt.Sprintf("%s %d\x00", obj.Type, len(obj.Data))
	content := make([]byte, 0, len(header)+len(obj.Data))
	content = append(content, header...)
	return append(content, obj.Data...)
}

func Hash(obj *Object) string {
	sum := sha1.Sum(Encode(obj))
	return hex.EncodeToString(sum[:])
}

func Serialize(obj *Object) (compressed []byte, sha string, err error) {
	content := Encode(obj)

	sum := sha1.Sum(content)
	sha = hex.EncodeToString(sum[:])

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err = w.Write(content); err != nil {
		return nil, "", fmt.Errorf("zlib write: %w", err)
	}
	if err = w.Close(); err != nil {
		return nil, "", fmt.Errorf("zlib close: %w", err)
	}

	return buf.Bytes(), sha, nil
}

func Deserialize(compressed []byte) (*Object, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zlib new reader: %w", err)
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib read: %w", err)
	}
	return parse(content)
}

func parse(content []byte) (*Object, error) {
	nullIdx := bytes.IndexByte(content, 0)
	if nullIdx == -1 {
		return nil, fmt.Errorf("invalid object: no null byte")
	}

	header := string(content[:nullIdx])
	data := content[nullIdx+1:]

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid object header: %q", header)
	}

	size, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid size in header: %w", err)
	}
	if size != len(data) {
		return nil, fmt.Errorf("invalid data size: expected %d, got %d", size, len(data))
	}

	return &Object{
		Type: ObjectType(parts[0]),
		Data: data,
	}, nil
}

// ValidID reports whether id is a 40 character lowercase hex object id.
func ValidID(id string) bool {
	if len(id) != 2*IDSize {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// SplitID splits an id the way loose objects are laid out on disk:
// objects/<first 2 chars>/<remaining 38>.
func SplitID(id string) (prefix, suffix string) {
	if len(id) < 2 {
		return id, ""
	}
	return id[:2], id[2:]
}

func JoinID(prefix, suffix string) string {
	return prefix + suffix
}
