package problem

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Load reads problems from a dataset file. ".jsonl" files hold one problem
// per line; anything else is parsed as a JSON array or a single object.
// Every problem is validated.
func Load(path string) ([]Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}

	var problems []Problem
	if strings.HasSuffix(path, ".jsonl") {
		problems, err = parseJSONL(data)
	} else {
		problems, err = parseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}

	seen := make(map[string]bool, len(problems))
	for _, p := range problems {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.InstanceID] {
			return nil, fmt.Errorf("duplicate instance %s in %s", p.InstanceID, path)
		}
		seen[p.InstanceID] = true
	}
	return problems, nil
}

func parseJSONL(data []byte) ([]Problem, error) {
	var problems []Problem
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var p Problem
		if err := json.Unmarshal(text, &p); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		problems = append(problems, p)
	}
	return problems, sc.Err()
}

func parseJSON(data []byte) ([]Problem, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var p Problem
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return []Problem{p}, nil
	}
	var problems []Problem
	if err := json.Unmarshal(data, &problems); err != nil {
		return nil, err
	}
	return problems, nil
}

// Find returns the problem with the given instance id.
func Find(problems []Problem, id string) (Problem, error) {
	for _, p := range problems {
		if p.InstanceID == id {
			return p, nil
		}
	}
	return Problem{}, fmt.Errorf("instance %s not found in dataset", id)
}

// Select returns the problems whose ids are listed, in list order. An empty
// list selects everything.
func Select(problems []Problem, ids []string) ([]Problem, error) {
	if len(ids) == 0 {
		return problems, nil
	}
	out := make([]Problem, 0, len(ids))
	for _, id := range ids {
		p, err := Find(problems, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
