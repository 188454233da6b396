package readapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	jsoncodec "github.com/drblury/tripflow/internal/runtime/jsoncodec"
)

// serializer renders responses with the same codec the pipeline uses for
// envelopes, so a booking reads the same on the wire and over HTTP.
type serializer struct{}

func (serializer) Serialize(c echo.Context, i any, indent string) error {
	if indent == "" {
		return jsoncodec.Encode(c.Response(), i)
	}
	body, err := jsoncodec.MarshalIndent(i, "", indent)
	if err != nil {
		return err
	}
	_, err = c.Response().Write(body)
	return err
}

func (serializer) Deserialize(c echo.Context, i any) error {
	if err := jsoncodec.Decode(c.Request().Body, i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed JSON body").SetInternal(err)
	}
	return nil
}
