package acl

import (
	"bufio"
	"os"
	"strings"

	"golang.org/x/xerrors"

	"github.com/distr1/jsongit2/internal/aclhelper"
)

// ExecBackend drives a running aclhelper.Helper with the batched
// "access % user R" query gitolite3.c documents: one temp file holding
// the newline-separated repo list on stdin, one temp file capturing
// gitolite's one-line-per-repo verdicts on stdout.
type ExecBackend struct {
	Helper  *aclhelper.Helper
	TempDir string // defaults to os.TempDir()
}

// Query implements Backend.
func (e *ExecBackend) Query(user string, repos []string) (map[string]bool, error) {
	result := make(map[string]bool, len(repos))
	if len(repos) == 0 {
		return result, nil
	}

	dir := e.TempDir
	if dir == "" {
		dir = os.TempDir()
	}

	in, err := os.CreateTemp(dir, "jg2-gl3-in-")
	if err != nil {
		return nil, err
	}
	inPath := in.Name()
	defer os.Remove(inPath)
	if _, err := in.WriteString(joinRepos(repos) + "\n"); err != nil {
		in.Close()
		return nil, err
	}
	if err := in.Close(); err != nil {
		return nil, err
	}

	out, err := os.CreateTemp(dir, "jg2-gl3-out-")
	if err != nil {
		return nil, err
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	rec := aclhelper.Record{
		Q:          "access % " + user + " R",
		StdinPath:  inPath,
		StdoutPath: outPath,
	}
	if _, err := e.Helper.Query(rec); err != nil {
		return nil, xerrors.Errorf("gitolite access query for %s: %w", user, err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	known := make(map[string]bool, len(repos))
	for _, r := range repos {
		known[r] = true
		result[r] = false
	}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		repo := fields[0]
		if !known[repo] {
			continue
		}
		// gitolite prints a refs pattern like "refs/.*" on success and
		// a sentence starting "DENIED"/"any ... DENIED" on failure; a
		// third field that doesn't start with "DENIED" (case
		// insensitive) and isn't the literal word "any" is a grant.
		verdict := fields[2]
		result[repo] = !strings.EqualFold(verdict, "any") && !strings.HasPrefix(strings.ToUpper(verdict), "DENIED")
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
