package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// ContentTypeProblemJSON - media type ответов об ошибках (RFC 7807).
const ContentTypeProblemJSON = "application/problem+json"

// Problem - тело ответа об ошибке. Kind и ProductID позволяют клиенту ветвиться без разбора текста.
type Problem struct {
	Type      string           `json:"type"`
	Title     string           `json:"title"`
	Status    int              `json:"status"`
	Detail    string           `json:"detail,omitempty"`
	Instance  string           `json:"instance,omitempty"`
	Kind      domain.ErrorKind `json:"kind"`
	ProductID int64            `json:"product_id,omitempty"`
}

type problemTemplate struct {
	typ    string
	title  string
	status int
}

var problemTemplates = map[domain.ErrorKind]problemTemplate{
	domain.KindValidation:        {"/problems/validation-error", "Validation Error", http.StatusBadRequest},
	domain.KindNotFound:          {"/problems/not-found", "Resource Not Found", http.StatusNotFound},
	domain.KindUnauthorized:      {"/problems/forbidden", "Forbidden", http.StatusForbidden},
	domain.KindInsufficientStock: {"/problems/insufficient-stock", "Insufficient Stock", http.StatusBadRequest},
	domain.KindInvalidState:      {"/problems/invalid-state", "Invalid Order State", http.StatusBadRequest},
	domain.KindInvalidTransition: {"/problems/invalid-transition", "Invalid Status Transition", http.StatusBadRequest},
	domain.KindConflict:          {"/problems/conflict", "Conflict", http.StatusConflict},
	domain.KindInternal:          {"/problems/internal-error", "Internal Server Error", http.StatusInternalServerError},
}

// problemFor строит Problem по доменной ошибке. Детали внутренних сбоев наружу не попадают.
func problemFor(err *domain.Error, instance string) Problem {
	tmpl, ok := problemTemplates[err.Kind]
	if !ok {
		tmpl = problemTemplates[domain.KindInternal]
	}

	detail := err.Message
	switch {
	case err.Kind == domain.KindInternal:
		detail = "internal error"
	case err.Kind == domain.KindValidation && err.Err != nil:
		detail = err.Error()
	}

	return Problem{
		Type:      tmpl.typ,
		Title:     tmpl.title,
		Status:    tmpl.status,
		Detail:    detail,
		Instance:  instance,
		Kind:      err.Kind,
		ProductID: err.ProductID,
	}
}

// unauthenticatedProblem - ответ на запрос без X-User-ID.
func unauthenticatedProblem(detail, instance string) Problem {
	return Problem{
		Type:     "/problems/unauthorized",
		Title:    "Unauthorized",
		Status:   http.StatusUnauthorized,
		Detail:   detail,
		Instance: instance,
		Kind:     domain.KindUnauthorized,
	}
}

func respondProblem(c *gin.Context, problem Problem) {
	c.Header("Content-Type", ContentTypeProblemJSON)
	c.AbortWithStatusJSON(problem.Status, problem)
}
