package objstore

import "fmt"

// LayerKey 图层对象 key，格式 uploads/{user_id}/{map_id}/{layer_id}{ext}
func LayerKey(userID, mapID, layerID, ext string) string {
	return fmt.Sprintf("uploads/%s/%s/%s%s", userID, mapID, layerID, ext)
}
