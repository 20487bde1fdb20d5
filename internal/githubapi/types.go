package githubapi

// Issue is the coordinator's view of a GitHub issue.
type Issue struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	State     string   `json:"state"` // "open" or "closed"
	URL       string   `json:"url"`
	Labels    []string `json:"labels"`
	Assignees []string `json:"assignees"`
}

// IsOpen reports whether the issue is open. gh reports state in upper case
// for some commands and lower case for others, so compare loosely.
func (i Issue) IsOpen() bool {
	return i.State == "open" || i.State == "OPEN"
}

// HasLabel reports whether the issue carries the named label.
func (i Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// HasAssignee reports whether the named user is assigned to the issue.
func (i Issue) HasAssignee(login string) bool {
	for _, a := range i.Assignees {
		if a == login {
			return true
		}
	}
	return false
}

// WorkflowRun is one GitHub Actions run on a branch.
type WorkflowRun struct {
	ID         int64  `json:"databaseId"`
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, cancelled, ""
	URL        string `json:"url"`
	HeadBranch string `json:"headBranch"`
}
