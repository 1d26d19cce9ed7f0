package imap

import (
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/commands"
	"github.com/emersion/go-imap/responses"
)

// threadingClient is implemented by *client.Client. Servers advertising
// THREAD= let the adapter group messages into conversations.
type threadingClient interface {
	Execute(cmdr imap.Commander, h responses.Handler) (*imap.StatusResp, error)
	Capability() (map[string]bool, error)
}

// threadCmd is the RFC 5256 THREAD command, sent wrapped in UID.
type threadCmd struct {
	algorithm string
	criteria  *imap.SearchCriteria
}

func (cmd *threadCmd) Command() *imap.Command {
	args := []interface{}{imap.RawString(cmd.algorithm), imap.RawString("UTF-8")}
	args = append(args, cmd.criteria.Format()...)
	return &imap.Command{Name: "THREAD", Arguments: args}
}

// threadResp collects the untagged THREAD response.
type threadResp struct {
	threads [][]uint32
}

func (r *threadResp) Handle(resp imap.Resp) error {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok || name != "THREAD" {
		return responses.ErrUnhandled
	}
	threads, err := parseThreads(fields)
	if err != nil {
		return err
	}
	r.threads = threads
	return nil
}

// parseThreads flattens each nested thread list into its UIDs, root first.
func parseThreads(fields []interface{}) ([][]uint32, error) {
	threads := make([][]uint32, 0, len(fields))
	for _, field := range fields {
		var uids []uint32
		seen := make(map[uint32]bool)
		var walk func(v interface{}) error
		walk = func(v interface{}) error {
			switch value := v.(type) {
			case nil:
				return nil
			case []interface{}:
				for _, item := range value {
					if err := walk(item); err != nil {
						return err
					}
				}
				return nil
			default:
				uid, err := imap.ParseNumber(value)
				if err != nil {
					return err
				}
				if !seen[uid] {
					seen[uid] = true
					uids = append(uids, uid)
				}
				return nil
			}
		}
		if err := walk(field); err != nil {
			return nil, err
		}
		if len(uids) > 0 {
			threads = append(threads, uids)
		}
	}
	return threads, nil
}

// pickThreadAlgorithm prefers REFERENCES over ORDEREDSUBJECT.
func pickThreadAlgorithm(caps map[string]bool) (string, bool) {
	var algorithms []string
	for c, on := range caps {
		upper := strings.ToUpper(c)
		if on && strings.HasPrefix(upper, "THREAD=") {
			algorithms = append(algorithms, strings.TrimPrefix(upper, "THREAD="))
		}
	}
	if len(algorithms) == 0 {
		return "", false
	}
	for _, preferred := range []string{"REFERENCES", "REFS", "ORDEREDSUBJECT"} {
		for _, alg := range algorithms {
			if alg == preferred {
				return alg, true
			}
		}
	}
	sort.Strings(algorithms)
	return algorithms[0], true
}

// threadRoots maps every UID matching criteria to the root UID of its
// thread. It returns nil when the server cannot thread.
func threadRoots(c Client, criteria *imap.SearchCriteria) map[uint32]uint32 {
	tc, ok := c.(threadingClient)
	if !ok {
		return nil
	}
	caps, err := tc.Capability()
	if err != nil {
		return nil
	}
	algorithm, ok := pickThreadAlgorithm(caps)
	if !ok {
		return nil
	}

	res := &threadResp{}
	status, err := tc.Execute(&commands.Uid{Cmd: &threadCmd{algorithm: algorithm, criteria: criteria}}, res)
	if err != nil || status.Err() != nil {
		return nil
	}

	roots := make(map[uint32]uint32)
	for _, thread := range res.threads {
		for _, uid := range thread {
			roots[uid] = thread[0]
		}
	}
	return roots
}
