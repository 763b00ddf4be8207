package solve

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	successChar   = "✓"
	successCharSp = successChar + " "
	failChar      = "✗"
	failCharSp    = failChar + " "
	backChar      = "←"
)

func (s *solver) traceCheckQueue(q *versionQueue, cont bool, offset int) {
	if !s.params.Trace {
		return
	}

	prefix := strings.Repeat("| ", len(s.vqs)+offset)
	vlen := strconv.Itoa(len(q.pi))

	var verb string
	if cont {
		verb = "continue"
		vlen = vlen + " more"
	} else {
		verb = "attempt"
	}

	s.tl.Printf("%s\n", tracePrefix(fmt.Sprintf("? %s %s; %s versions to try", verb, q.ref.errString(), vlen), prefix, prefix))
}

// traceStartBacktrack is called with the Ref that first failed, thus
// initiating backtracking
func (s *solver) traceStartBacktrack(ref Ref, err error) {
	if !s.params.Trace {
		return
	}

	msg := fmt.Sprintf("%s no more versions of %s to try; begin backtrack", backChar, ref.errString())
	prefix := strings.Repeat("| ", len(s.sel.atoms))
	s.tl.Printf("%s\n", tracePrefix(msg, prefix, prefix))
	if te, ok := err.(traceError); ok {
		s.tl.Printf("%s\n", tracePrefix(te.traceString(), prefix, prefix))
	}
}

// traceBacktrack is called when an atom is popped off during backtracking
func (s *solver) traceBacktrack(ref Ref) {
	if !s.params.Trace {
		return
	}

	msg := fmt.Sprintf("%s backtrack: no more versions of %s to try", backChar, ref.errString())
	prefix := strings.Repeat("| ", len(s.sel.atoms))
	s.tl.Printf("%s\n", tracePrefix(msg, prefix, prefix))
}

// Called just once after solving has finished, whether success or not
func (s *solver) traceFinish(res Result, err error) {
	if !s.params.Trace {
		return
	}

	if err == nil {
		s.tl.Printf("%s found solution with %v packages in %v attempts", successChar, len(res.p), s.attempts+1)
	} else {
		s.tl.Printf("%s solving failed", failChar)
	}
}

// traceSelectRoot is called just once, when the root package is selected
func (s *solver) traceSelectRoot(deps []Range) {
	if !s.params.Trace {
		return
	}

	s.tl.Printf("Root package is %q", s.rm.Name())
	s.tl.Printf(" %v dependencies to solve", len(deps))
	s.tl.Printf(successCharSp + "select (root)")
}

// traceSelect is called when an atom is successfully selected
func (s *solver) traceSelect(a ID) {
	if !s.params.Trace {
		return
	}

	msg := fmt.Sprintf("%s select %s", successChar, a2vs(a))
	prefix := strings.Repeat("| ", len(s.sel.atoms)-1)
	s.tl.Printf("%s\n", tracePrefix(msg, prefix, prefix))
}

func (s *solver) traceInfo(args ...interface{}) {
	if !s.params.Trace {
		return
	}

	if len(args) == 0 {
		panic("must pass at least one param to traceInfo")
	}

	preflen := len(s.sel.atoms)
	var msg string
	switch data := args[0].(type) {
	case string:
		msg = tracePrefix(fmt.Sprintf(data, args[1:]...), "| ", "| ")
	case traceError:
		preflen++
		// We got a special traceError, use its custom method
		msg = tracePrefix(data.traceString(), "| ", failCharSp)
	case error:
		// Regular error; still use the x leader but default Error() string
		msg = tracePrefix(data.Error(), "| ", failCharSp)
	default:
		// panic here because this can *only* mean an internal bug
		panic(fmt.Sprintf("canary - unknown type passed as first param to traceInfo %T", data))
	}

	prefix := strings.Repeat("| ", preflen)
	s.tl.Printf("%s\n", tracePrefix(msg, prefix, prefix))
}

func tracePrefix(msg, sep, fsep string) string {
	parts := strings.Split(strings.TrimSuffix(msg, "\n"), "\n")
	for k, str := range parts {
		if k == 0 {
			parts[k] = fsep + str
		} else {
			parts[k] = sep + str
		}
	}

	return strings.Join(parts, "\n")
}
