// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/pipeline"
	"github.com/poiesic/strata/search"
	"github.com/poiesic/strata/storage"
)

var (
	// ErrPipelineRequired is returned when the server is created without a pipeline.
	ErrPipelineRequired = errors.New("pipeline is required")

	// ErrRepositoryRequired is returned when the server is created without a repository.
	ErrRepositoryRequired = errors.New("repository is required")

	// ErrSearchDisabled is reported when no vector target backs search.
	ErrSearchDisabled = errors.New("semantic search is not configured")

	// ErrUploadTooLarge is reported when an upload exceeds the size limit.
	ErrUploadTooLarge = errors.New("upload exceeds size limit")
)

// statusOf maps an error to an HTTP status code.
func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, core.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrSearchDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrUnknownStage),
		errors.Is(err, pipeline.ErrEmptyUpload),
		errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, core.ErrInvalidCategory),
		errors.Is(err, core.ErrInvalidTargetLayer),
		errors.Is(err, storage.ErrInvalidRecord):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// abort writes err as a JSON error body.
func abort(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
