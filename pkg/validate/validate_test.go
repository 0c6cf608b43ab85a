package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Message string `json:"message" validate:"required,max=10"`
	Mode    string `json:"mode" validate:"omitempty,oneof=fast slow"`
}

type entry struct {
	Name  string   `yaml:"name" validate:"required"`
	Items []string `yaml:"items" validate:"min=1"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(request{Message: "hi"}))

	err := Struct(request{})
	require.Error(t, err)
	assert.Equal(t, "message is required", err.Error())

	err = Struct(request{Message: "this is far too long", Mode: "medium"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message must have at most 10 characters or items")
	assert.Contains(t, err.Error(), "mode must be one of: fast slow")
}

func TestStruct_UsesYAMLNames(t *testing.T) {
	err := Struct(entry{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "items must have at least 1 characters or items")
}
