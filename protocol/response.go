package protocol

import (
	"fmt"

	"github.com/google/go-dap"
)

// ErrorResponseID 错误响应的id
const ErrorResponseID = 12345

func NewResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

// NewErrorResponse message直接作为错误信息，dlv返回的错误原样透传
func NewErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *NewResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{}
	er.Body.Error.Format = message
	er.Body.Error.Id = ErrorResponseID
	return er
}

// NewErrorResponseWithOpts
//
//	showUser - if true, the error will be shown to the user (e.g. via a visible pop-up)
func NewErrorResponseWithOpts(request *dap.Request, id int, summary, details string, showUser bool) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *NewResponse(request.Seq, request.Command)
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{
		Id:       id,
		Format:   fmt.Sprintf("%s: %s", summary, details),
		ShowUser: showUser,
	}
	return er
}
