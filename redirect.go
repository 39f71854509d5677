package redproc

import (
	"fmt"
	"os"
)

// resolveRedirect turns the redirect mode for one standard stream into the
// pair of files to install on the parent and child sides. parent is non-nil
// only for ModePipe. ownsChild reports whether the child-side file belongs to
// us and must be closed after the spawn; an inherited standard stream does
// not.
func resolveRedirect(stream Stream, r Redirect) (parent, child *os.File, ownsChild bool, err error) {
	switch r.Mode {
	case ModePipe:
		rd, wr, err := os.Pipe()
		if err != nil {
			return nil, nil, false, fmt.Errorf("creating %s pipe: %w", stream, err)
		}
		if stream == In {
			return wr, rd, true, nil
		}
		return rd, wr, true, nil

	case ModeInherit:
		f := parentStream(stream)
		if f == nil {
			// The parent's own stream is gone, so there is nothing to
			// share. Fall back to the null device.
			return resolveRedirect(stream, Redirect{Mode: ModeDiscard})
		}
		return nil, f, false, nil

	case ModeDiscard:
		flag := os.O_WRONLY
		if stream == In {
			flag = os.O_RDONLY
		}
		f, err := os.OpenFile(os.DevNull, flag, 0)
		if err != nil {
			return nil, nil, false, fmt.Errorf("opening %s for %s: %w", os.DevNull, stream, err)
		}
		return nil, f, true, nil

	case ModeFile:
		flag := os.O_WRONLY | os.O_CREATE | os.O_APPEND
		if stream == In {
			flag = os.O_RDONLY
		}
		f, err := os.OpenFile(r.Path, flag, 0o644)
		if err != nil {
			return nil, nil, false, fmt.Errorf("opening %q for %s: %w", r.Path, stream, err)
		}
		return nil, f, true, nil
	}

	return nil, nil, false, fmt.Errorf("%w: unknown redirect mode %d", ErrInvalidArgument, r.Mode)
}

func parentStream(stream Stream) *os.File {
	switch stream {
	case In:
		return os.Stdin
	case Out:
		return os.Stdout
	default:
		return os.Stderr
	}
}
