package httpapi

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/slarm-iot/slarm/internal/slarm/types"
)

func statusToStruct(r types.StatusResponse) (*structpb.Struct, error) {
	return r.Struct()
}

func ingestRequestFromStruct(s *structpb.Struct) types.IngestRequest {
	f := s.GetFields()
	return types.IngestRequest{
		Node:    f["node"].GetStringValue(),
		Line:    f["line"].GetStringValue(),
		Dialect: f["dialect"].GetStringValue(),
	}
}
