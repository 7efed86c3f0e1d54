package protocolrunnertest

import "github.com/tezedge/protocol-runner/protocolrunner"

// DefaultHandler answers every known request kind with a zero-value success
// response, a reasonable "happy path" stand-in for tests that only care
// about the client-side plumbing (framing, readiness gating, timeout
// wiring) rather than runner-specific payload content. Tests that need
// specific payloads or failures should write a narrower Handler instead.
func DefaultHandler() Handler {
	return func(req protocolrunner.Request) (protocolrunner.Response, string) {
		switch req.Kind() {
		case protocolrunner.KindPing:
			return protocolrunner.PingResponse{}, ""
		case protocolrunner.KindShutdown:
			return protocolrunner.ShutdownResult{}, ""
		case protocolrunner.KindChangeRuntimeConfiguration:
			return protocolrunner.ChangeRuntimeConfigurationResult{}, ""
		case protocolrunner.KindInitProtocolContext:
			return protocolrunner.InitProtocolContextResponse{}, ""
		case protocolrunner.KindInitContextIPCServer:
			return protocolrunner.InitContextIPCServerResult{}, ""
		case protocolrunner.KindApplyBlock:
			return protocolrunner.ApplyBlockResult{}, ""
		case protocolrunner.KindLatestContextHashes:
			return protocolrunner.LatestContextHashesResult{}, ""
		case protocolrunner.KindAssertEncodingForProtocolData:
			return protocolrunner.AssertEncodingForProtocolDataResult{}, ""
		case protocolrunner.KindBeginApplication:
			return protocolrunner.BeginApplicationResult{}, ""
		case protocolrunner.KindBeginConstruction:
			return protocolrunner.BeginConstructionResult{}, ""
		case protocolrunner.KindPreFilterOperation:
			return protocolrunner.PreFilterOperationResult{Accepted: true}, ""
		case protocolrunner.KindValidateOperation:
			return protocolrunner.ValidateOperationResult{Applied: true}, ""
		case protocolrunner.KindComputePath:
			return protocolrunner.ComputePathResult{}, ""
		case protocolrunner.KindJSONEncodeApplyBlockResultMetadata:
			return protocolrunner.JSONEncodeApplyBlockResultMetadataResult{JSON: "{}"}, ""
		case protocolrunner.KindJSONEncodeApplyBlockOperationsMetadata:
			return protocolrunner.JSONEncodeApplyBlockOperationsMetadataResult{JSON: "[]"}, ""
		case protocolrunner.KindCallProtocolRPC:
			return protocolrunner.CallProtocolRPCResult{}, ""
		case protocolrunner.KindGenesisResultData:
			return protocolrunner.CommitGenesisResult{}, ""
		case protocolrunner.KindHelpersPreapplyOperations:
			return protocolrunner.HelpersPreapplyOperationsResult{JSON: "[]"}, ""
		case protocolrunner.KindHelpersPreapplyBlock:
			return protocolrunner.HelpersPreapplyBlockResult{JSON: "{}"}, ""
		case protocolrunner.KindGetContextKeyFromHistory:
			return protocolrunner.GetContextKeyFromHistoryResult{}, ""
		case protocolrunner.KindGetContextKeyValuesByPrefix:
			return protocolrunner.GetContextKeyValuesByPrefixResult{}, ""
		case protocolrunner.KindGetContextTreeByPrefix:
			return protocolrunner.GetContextTreeByPrefixResult{}, ""
		case protocolrunner.KindDumpContext:
			return protocolrunner.DumpContextResult{}, ""
		case protocolrunner.KindRestoreContext:
			return protocolrunner.RestoreContextResult{}, ""
		default:
			return nil, "unhandled request kind: " + string(req.Kind())
		}
	}
}
