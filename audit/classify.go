package audit

import (
	"net/http"
	"strings"

	"github.com/blogem/nms-gateway/models"
)

var mutationTypes = map[string]models.MutationType{
	http.MethodPost:   models.MutationCreate,
	http.MethodPut:    models.MutationUpdate,
	http.MethodDelete: models.MutationDelete,
}

// Classify maps an HTTP method to the mutation it performs. ok is false for
// methods that are never audited, GET included.
func Classify(method string) (models.MutationType, bool) {
	m, ok := mutationTypes[strings.ToUpper(method)]
	return m, ok
}
