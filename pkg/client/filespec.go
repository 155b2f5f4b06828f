package client

import (
	"fmt"
	"strings"
)

// FileSpec is one end of a copy job: a local path, or a path on a
// remote host reached as [user@]host:path.
type FileSpec struct {
	Host string // empty for a local path
	User string // optional, only meaningful with Host
	Path string
}

// IsRemote reports whether this end lives on the remote host.
func (f FileSpec) IsRemote() bool { return f.Host != "" }

func (f FileSpec) String() string {
	if !f.IsRemote() {
		return f.Path
	}
	if f.User != "" {
		return fmt.Sprintf("%s@%s:%s", f.User, f.Host, f.Path)
	}
	return fmt.Sprintf("%s:%s", f.Host, f.Path)
}

// ParseFileSpec splits a command-line argument into its parts. A colon
// introduces a host unless it sits in the second position (a Windows
// drive letter) or the argument is an absolute path.
func ParseFileSpec(arg string) (FileSpec, error) {
	if arg == "" {
		return FileSpec{}, fmt.Errorf("empty file specification")
	}
	host, path, found := strings.Cut(arg, ":")
	if !found || strings.HasPrefix(arg, "/") || len(host) == 1 {
		return FileSpec{Path: arg}, nil
	}
	spec := FileSpec{Host: host, Path: path}
	if user, rest, ok := strings.Cut(host, "@"); ok {
		if user == "" || rest == "" {
			return FileSpec{}, fmt.Errorf("invalid remote specification %q", arg)
		}
		spec.User, spec.Host = user, rest
	}
	if spec.Host == "" {
		return FileSpec{}, fmt.Errorf("invalid remote specification %q", arg)
	}
	if spec.Path == "" {
		// "host:" means the remote home directory.
		spec.Path = "."
	}
	return spec, nil
}

// CopyJob is a validated transfer: exactly one end is remote.
type CopyJob struct {
	Source      FileSpec
	Destination FileSpec
	// Preserve asks for metadata preservation.
	Preserve bool
}

// NewCopyJob validates the pair of endpoints.
func NewCopyJob(source, dest FileSpec, preserve bool) (*CopyJob, error) {
	switch {
	case source.IsRemote() && dest.IsRemote():
		return nil, fmt.Errorf("only one of source and destination may be remote")
	case !source.IsRemote() && !dest.IsRemote():
		return nil, fmt.Errorf("one of source and destination must be remote")
	}
	return &CopyJob{Source: source, Destination: dest, Preserve: preserve}, nil
}

// Remote returns the remote end.
func (j *CopyJob) Remote() FileSpec {
	if j.Source.IsRemote() {
		return j.Source
	}
	return j.Destination
}

// IsGet reports the direction: true when the remote end is the source.
func (j *CopyJob) IsGet() bool { return j.Source.IsRemote() }
