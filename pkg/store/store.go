// Package store provides the persistent settings store of a node, the
// counterpart of the non-volatile storage partition on a device.
//
// Settings are kept as a protobuf Struct behind a short magic/version
// header. A file which can't be decoded is erased and reinitialized,
// the same way flash storage is reformatted when its layout changed.
package store

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/pkg/errors"
)

var magic = []byte("GNS\x01")

// ErrClosed indicates the store is closed.
var ErrClosed = errors.New("store closed")

// Store is a key/value store. An empty Path keeps values in memory only.
type Store struct {
	Path string

	lock   sync.Mutex
	fields map[string]*structpb.Value
	dirty  bool
	closed bool
}

// Open opens the store at path, creating it if it doesn't exist.
func Open(path string) (*Store, error) {
	s := &Store{Path: path, fields: make(map[string]*structpb.Value)}
	if path == "" {
		return s, nil
	}
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read store %s", path)
	}
	if err := s.decode(data); err != nil {
		glog.Warningf("store %s unreadable, erasing: %v", path, err)
		if err := s.erase(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) decode(data []byte) error {
	if !bytes.HasPrefix(data, magic) {
		return errors.New("unknown format")
	}
	var st structpb.Struct
	if err := proto.Unmarshal(data[len(magic):], &st); err != nil {
		return err
	}
	for k, v := range st.GetFields() {
		s.fields[k] = v
	}
	return nil
}

// Int gets an integer value.
func (s *Store) Int(key string) (int, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	v, ok := s.fields[key]
	if !ok {
		return 0, false
	}
	num, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return int(num.NumberValue), true
}

// SetInt sets an integer value.
func (s *Store) SetInt(key string, val int) error {
	return s.set(key, &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: float64(val)}})
}

// String gets a string value.
func (s *Store) String(key string) (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	v, ok := s.fields[key]
	if !ok {
		return "", false
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false
	}
	return str.StringValue, true
}

// SetString sets a string value.
func (s *Store) SetString(key, val string) error {
	return s.set(key, &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: val}})
}

// Delete removes a key.
func (s *Store) Delete(key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.fields[key]; ok {
		delete(s.fields, key)
		s.dirty = true
	}
	return nil
}

func (s *Store) set(key string, val *structpb.Value) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.fields[key] = val
	s.dirty = true
	return nil
}

// Commit writes pending changes.
func (s *Store) Commit() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.commit()
}

// Erase removes all keys and the backing file contents.
func (s *Store) Erase() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.erase()
}

// Close commits pending changes and closes the store.
func (s *Store) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	err := s.commit()
	s.closed = true
	return err
}

func (s *Store) erase() error {
	s.fields = make(map[string]*structpb.Value)
	s.dirty = true
	return s.commit()
}

func (s *Store) commit() error {
	if !s.dirty || s.Path == "" {
		s.dirty = false
		return nil
	}
	data, err := proto.Marshal(&structpb.Struct{Fields: s.fields})
	if err != nil {
		return errors.Wrap(err, "encode store")
	}
	tmp := s.Path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return errors.Wrap(err, "create store dir")
	}
	if err := ioutil.WriteFile(tmp, append(append([]byte(nil), magic...), data...), 0644); err != nil {
		return errors.Wrapf(err, "write store %s", tmp)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return errors.Wrapf(err, "replace store %s", s.Path)
	}
	s.dirty = false
	return nil
}
