package terminal

import (
	"io/ioutil"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const sourceCacheSize = 32

// sourceCache keeps the contents of recently listed source files. An entry
// is reloaded when the modification time of the file changes.
type sourceCache struct {
	files *lru.Cache
}

type sourceFile struct {
	data    []byte
	modTime time.Time
}

func newSourceCache(size int) *sourceCache {
	files, err := lru.New(size)
	if err != nil {
		// only returned for a non positive size
		files, _ = lru.New(sourceCacheSize)
	}
	return &sourceCache{files: files}
}

// get returns the contents of path and its modification time.
func (c *sourceCache) get(path string) ([]byte, time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	if v, ok := c.files.Get(path); ok {
		if f := v.(*sourceFile); f.modTime.Equal(fi.ModTime()) {
			return f.data, f.modTime, nil
		}
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	c.files.Add(path, &sourceFile{data: data, modTime: fi.ModTime()})
	return data, fi.ModTime(), nil
}

// len returns the number of cached files.
func (c *sourceCache) len() int {
	return c.files.Len()
}
