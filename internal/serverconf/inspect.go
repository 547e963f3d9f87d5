package serverconf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Summary is what launchers need to know about a generated config file.
type Summary struct {
	DocumentRoot string
	Bind         string
	Port         int
	UploadsDir   string
}

// Inspect reads the document root, bind address, port and uploads dir from
// a config file written by Write. YAML files are detected by extension;
// anything else is parsed as lighttpd syntax.
func Inspect(path string) (*Summary, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := Load(path)
		if err != nil {
			return nil, err
		}
		return &Summary{DocumentRoot: f.DocumentRoot, Bind: f.Bind, Port: f.Port, UploadsDir: f.UploadsDir}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}
	defer file.Close()

	s := &Summary{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "server.document-root":
			s.DocumentRoot = unquote(value)
		case "server.bind":
			s.Bind = unquote(value)
		case "server.port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("server config %s: invalid port %q", path, value)
			}
			s.Port = port
		case "server.upload-dirs":
			s.UploadsDir = unquote(strings.Trim(value, "() "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}
	if s.Port == 0 {
		return nil, fmt.Errorf("server config %s: no server.port", path)
	}
	return s, nil
}

func unquote(v string) string {
	if u, err := strconv.Unquote(v); err == nil {
		return u
	}
	return strings.Trim(v, `"`)
}
