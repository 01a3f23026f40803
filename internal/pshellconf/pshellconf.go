// Package pshellconf implements the key=value configuration files and
// directory-search rules of spec §6.2, §6.3, §6.4, §6.6, grounded on
// phenix/util/envflag.go's env-var-overlay idiom (adapted here to a search
// path instead of a flag.FlagSet).
package pshellconf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Environment variables that override the compile-time default search
// directories (spec §6.6). An unset variable falls back to the default and
// the working directory.
const (
	EnvConfigDir  = "PSHELL_CONFIG_DIR"
	EnvStartupDir = "PSHELL_STARTUP_DIR"
	EnvBatchDir   = "PSHELL_BATCH_DIR"
)

// Compile-time default directories (spec §6.2, §6.3: "the compile-time
// default directory").
const (
	DefaultConfigDir  = "/etc/pshell/config"
	DefaultStartupDir = "/etc/pshell/startup"
	DefaultBatchDir   = "/etc/pshell/batch"
)

// ServerConfigFile is the well-known server config file name (spec §6.2).
const ServerConfigFile = "pshell-server.conf"

// ControlConfigFile is the well-known control-client config file name
// (spec §6.4).
const ControlConfigFile = "pshell-control.conf"

// SearchDirs returns the ordered list of directories searched for a
// config/startup/batch file: $env (if set), the compile-time default, and
// the current working directory (spec §6.2: "in order").
func SearchDirs(env, compileTimeDefault string) []string {
	dirs := make([]string, 0, 3)
	if v := os.Getenv(env); v != "" {
		dirs = append(dirs, v)
	}
	dirs = append(dirs, compileTimeDefault)
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	return dirs
}

// FindFile locates name under SearchDirs(env, compileTimeDefault), returning
// the first directory in which it exists.
func FindFile(env, compileTimeDefault, name string) (string, bool) {
	for _, dir := range SearchDirs(env, compileTimeDefault) {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// parsed is the generic "name.option=value" table shared by server and
// control config files (spec §6.2, §6.4).
type parsed map[string]map[string]string

// parseFile reads path line by line, skipping empty lines and lines
// beginning with "#", and splits each remaining line on the first "." and
// the first "=" to build name -> option -> value.
func parseFile(path string) (parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(parsed)

	sc := bufio.NewScanner(f)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("pshellconf: %s:%d: missing '=' in %q", path, lineNum, line)
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])

		dot := strings.IndexByte(key, '.')
		if dot < 0 {
			return nil, fmt.Errorf("pshellconf: %s:%d: missing '.' in key %q", path, lineNum, key)
		}
		name := key[:dot]
		option := key[dot+1:]

		if out[name] == nil {
			out[name] = make(map[string]string)
		}
		out[name][option] = value
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ServerOptions holds one server name's recognized pshell-server.conf
// options (spec §6.2).
type ServerOptions struct {
	Title   string
	Banner  string
	Prompt  string
	Host    string
	Port    int
	Type    string // "udp", "tcp", "unix", "local"
	Timeout int    // minutes, TCP idle timeout
}

// LoadServerConfig finds and parses pshell-server.conf, returning its
// per-server-name options. A missing file is not an error -- it returns an
// empty map, matching "recognized options" being opt-in per server.
func LoadServerConfig() (map[string]*ServerOptions, error) {
	path, ok := FindFile(EnvConfigDir, DefaultConfigDir, ServerConfigFile)
	if !ok {
		return map[string]*ServerOptions{}, nil
	}
	return ParseServerConfigFile(path)
}

// ParseServerConfigFile parses a pshell-server.conf file at an explicit
// path, exported so callers that already located the file (or that want a
// test fixture) can skip the search.
func ParseServerConfigFile(path string) (map[string]*ServerOptions, error) {
	raw, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*ServerOptions, len(raw))
	for name, opts := range raw {
		so := &ServerOptions{}
		for k, v := range opts {
			switch k {
			case "title":
				so.Title = v
			case "banner":
				so.Banner = v
			case "prompt":
				so.Prompt = v
			case "host":
				so.Host = v
			case "port":
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("pshellconf: %s.port=%q: %v", name, v, err)
				}
				so.Port = n
			case "type":
				so.Type = strings.ToLower(v)
			case "timeout":
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("pshellconf: %s.timeout=%q: %v", name, v, err)
				}
				so.Timeout = n
			default:
				return nil, fmt.Errorf("pshellconf: %s: unrecognized server option %q", name, k)
			}
		}
		out[name] = so
	}
	return out, nil
}

// ControlOptions holds one control-session name's recognized
// pshell-control.conf options (spec §6.4).
type ControlOptions struct {
	Host           string // from "udp=<hostOrIp>"
	UnixServerName string // from "unix=<serverName>"; non-empty selects the Unix transport
	Port           int
	TimeoutMs      int
	TimeoutNone    bool // "timeout=none" disables the response wait entirely
}

// LoadControlConfig finds and parses pshell-control.conf. A missing file is
// not an error.
func LoadControlConfig() (map[string]*ControlOptions, error) {
	path, ok := FindFile(EnvConfigDir, DefaultConfigDir, ControlConfigFile)
	if !ok {
		return map[string]*ControlOptions{}, nil
	}
	return ParseControlConfigFile(path)
}

// ParseControlConfigFile parses a pshell-control.conf file at an explicit
// path.
func ParseControlConfigFile(path string) (map[string]*ControlOptions, error) {
	raw, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*ControlOptions, len(raw))
	for name, opts := range raw {
		co := &ControlOptions{}
		for k, v := range opts {
			switch k {
			case "udp":
				co.Host = v
			case "unix":
				co.UnixServerName = v
			case "port":
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("pshellconf: %s.port=%q: %v", name, v, err)
				}
				co.Port = n
			case "timeout":
				if strings.EqualFold(v, "none") {
					co.TimeoutNone = true
					continue
				}
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("pshellconf: %s.timeout=%q: %v", name, v, err)
				}
				co.TimeoutMs = n
			default:
				return nil, fmt.Errorf("pshellconf: %s: unrecognized control option %q", name, k)
			}
		}
		out[name] = co
	}
	return out, nil
}

// StartupFile locates "<serverName>.startup" under $PSHELL_STARTUP_DIR (or
// the compile-time default/CWD), per spec §6.2.
func StartupFile(serverName string) (string, bool) {
	return FindFile(EnvStartupDir, DefaultStartupDir, serverName+".startup")
}

// BatchFile locates filename under $PSHELL_BATCH_DIR (or the compile-time
// default/CWD), per spec §6.3. Unlike startup files, a batch file's name is
// supplied verbatim by the "batch" command's caller.
func BatchFile(filename string) (string, bool) {
	if filepath.IsAbs(filename) {
		if _, err := os.Stat(filename); err == nil {
			return filename, true
		}
		return "", false
	}
	return FindFile(EnvBatchDir, DefaultBatchDir, filename)
}

// ReadCommandLines reads path, returning each non-empty, non-"#"-prefixed
// line in order -- used by both startup-file loading and the "batch"
// command to feed lines through the command dispatcher (spec §6.2, §6.3).
func ReadCommandLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
