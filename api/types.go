package api

const mutationMaxSize = 64 * 1024 // 64 KiB

// Request bodies for the mutation endpoints. Patch fields are pointers so an
// absent field and an explicit empty string stay distinguishable.

type createOrganizationRequest struct {
	Name         string `json:"name"`
	ContactEmail string `json:"contactEmail"`
}

type createProjectRequest struct {
	OrganizationSlug string `json:"organizationSlug"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	DueDate          string `json:"dueDate"`
}

type updateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	DueDate     *string `json:"dueDate"`
}

type createTaskRequest struct {
	ProjectID     string `json:"projectId"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	AssigneeEmail string `json:"assigneeEmail"`
	DueDate       string `json:"dueDate"`
}

type updateTaskRequest struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	AssigneeEmail *string `json:"assigneeEmail"`
	Status        *string `json:"status"`
}

type addCommentRequest struct {
	Content     string `json:"content"`
	AuthorEmail string `json:"authorEmail"`
}

type errorResponse struct {
	Error    string   `json:"error"`
	Messages []string `json:"messages,omitempty"`
}
