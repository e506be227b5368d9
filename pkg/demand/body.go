package demand

import (
	"github.com/keboola/go-utils/pkg/orderedmap"

	"github.com/keboola/go-demand/pkg/demand/form"
	"github.com/keboola/go-demand/pkg/transport"
)

// Body of a Post or Put demand, see Passthrough and Fields.
type Body interface {
	payload() (transport.Payload, error)
}

type passthroughBody struct {
	value transport.Payload
}

type fieldsBody struct {
	fields *orderedmap.OrderedMap
}

// Passthrough body is sent unchanged, for example transport.Text or transport.Multipart.
func Passthrough(payload transport.Payload) Body {
	return passthroughBody{value: payload}
}

// Text body is sent unchanged as a "text/plain" string.
func Text(s string) Body {
	return Passthrough(transport.Text(s))
}

// Fields body is serialized to the "application/x-www-form-urlencoded" format.
func Fields(fields *orderedmap.OrderedMap) Body {
	return fieldsBody{fields: fields}
}

// FieldsMap body is serialized as Fields, keys are sorted.
func FieldsMap(fields map[string]any) Body {
	return Fields(form.FromMap(fields))
}

func (b passthroughBody) payload() (transport.Payload, error) {
	return b.value, nil
}

func (b fieldsBody) payload() (transport.Payload, error) {
	str, err := form.Serialize(b.fields)
	if err != nil {
		return nil, err
	}
	return transport.FormURLEncoded(str), nil
}
