package vectorstore

import (
	"fmt"

	"github.com/google/uuid"
)

// pointNamespace scopes the name-based point UUIDs generated by PointID.
var pointNamespace = uuid.MustParse("6f1d2c3e-8a4b-5c6d-9e0f-a1b2c3d4e5f6")

// PointID derives the vector point id of a chunk from its document identity and index.
func PointID(documentUUID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", documentUUID, chunkIndex))).String()
}

// KeyedPointID derives a point id from an arbitrary stable key.
func KeyedPointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}
