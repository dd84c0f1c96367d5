package dependency

import "encoding/json"

func marshalEvent(evt ResolvedEvent) ([]byte, error) {
	return json.Marshal(evt)
}
