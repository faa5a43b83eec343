package k8shelper

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// UnstructuredToResource decodes an unstructured object into a typed struct
func UnstructuredToResource(obj *unstructured.Unstructured, resource interface{}) error {
	err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.UnstructuredContent(), resource)
	if err != nil {
		return fmt.Errorf("UnstructuredToResource: %w", err)
	}
	return nil
}
