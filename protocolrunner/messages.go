package protocolrunner

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MessageKind identifies a request or response variant on the wire. The
// full vocabulary is the closed set of constants below; Transport.Receive
// rejects anything else as an UnexpectedMessageError.
type MessageKind string

// Hash is an opaque, hex-encoded byte string used for context hashes, chain
// ids, protocol hashes, block hashes, and operation hashes. Its actual
// contents are a blockchain-domain concern this client does not interpret.
type Hash []byte

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}
	*h = b
	return nil
}

func (h Hash) String() string { return hex.EncodeToString(h) }

// Request is implemented by every request payload type. Kind identifies
// which wire variant the payload encodes as.
type Request interface {
	Kind() MessageKind
}

// Response is implemented by every response payload type.
type Response interface {
	Kind() MessageKind
}

// --- Ping ---

type PingRequest struct{}

func (PingRequest) Kind() MessageKind { return KindPing }

type PingResponse struct{}

func (PingResponse) Kind() MessageKind { return KindPingResult }

// --- Shutdown ---

type ShutdownRequest struct{}

func (ShutdownRequest) Kind() MessageKind { return KindShutdown }

type ShutdownResult struct{}

func (ShutdownResult) Kind() MessageKind { return KindShutdownResult }

// --- ChangeRuntimeConfiguration ---

type ChangeRuntimeConfigurationRequest struct {
	LogLevel                string `json:"log_level"`
	LogFormat               string `json:"log_format"`
	TransactionPoolOverflow bool   `json:"transaction_pool_overflow"`
}

func (ChangeRuntimeConfigurationRequest) Kind() MessageKind {
	return KindChangeRuntimeConfiguration
}

type ChangeRuntimeConfigurationResult struct{}

func (ChangeRuntimeConfigurationResult) Kind() MessageKind {
	return KindChangeRuntimeConfigurationResult
}

// --- InitProtocolContext ---

type InitProtocolContextParams struct {
	StorageDataDir  string  `json:"storage_data_dir"`
	GenesisHash     Hash    `json:"genesis_hash"`
	Readonly        bool    `json:"readonly"`
	CommitGenesis   bool    `json:"commit_genesis"`
	EnableTestchain bool    `json:"enable_testchain"`
	PatchContext    *string `json:"patch_context,omitempty"`
}

func (InitProtocolContextParams) Kind() MessageKind { return KindInitProtocolContext }

type InitProtocolContextResponse struct {
	GenesisCommitHash *Hash `json:"genesis_commit_hash,omitempty"`
}

func (InitProtocolContextResponse) Kind() MessageKind { return KindInitProtocolContextResult }

// --- InitContextIpcServer ---

type InitContextIPCServerParams struct {
	IPCSocketPath string `json:"ipc_socket_path"`
}

func (InitContextIPCServerParams) Kind() MessageKind { return KindInitContextIPCServer }

type InitContextIPCServerResult struct{}

func (InitContextIPCServerResult) Kind() MessageKind { return KindInitContextIPCServerResult }

// --- ApplyBlock ---

type ApplyBlockRequest struct {
	ChainID          Hash     `json:"chain_id"`
	BlockHeader      []byte   `json:"block_header"`
	PredHeader       []byte   `json:"predecessor_block_header"`
	Operations       [][]byte `json:"operations"`
	MaxOperationsTTL int      `json:"max_operations_ttl"`
}

func (ApplyBlockRequest) Kind() MessageKind { return KindApplyBlock }

type ApplyBlockResult struct {
	ContextHash       Hash   `json:"context_hash"`
	ValidationResult  []byte `json:"validation_result"`
	BlockMetadataHash *Hash  `json:"block_metadata_hash,omitempty"`
}

func (ApplyBlockResult) Kind() MessageKind { return KindApplyBlockResult }

// --- GetLatestContextHashes ---

type LatestContextHashesRequest struct {
	Count int `json:"count"`
}

func (LatestContextHashesRequest) Kind() MessageKind { return KindLatestContextHashes }

type LatestContextHashesResult struct {
	ContextHashes []Hash `json:"context_hashes"`
}

func (LatestContextHashesResult) Kind() MessageKind { return KindLatestContextHashesResult }

// --- AssertEncodingForProtocolData ---

type AssertEncodingForProtocolDataRequest struct {
	ProtocolHash Hash   `json:"protocol_hash"`
	Data         []byte `json:"data"`
}

func (AssertEncodingForProtocolDataRequest) Kind() MessageKind {
	return KindAssertEncodingForProtocolData
}

type AssertEncodingForProtocolDataResult struct{}

func (AssertEncodingForProtocolDataResult) Kind() MessageKind {
	return KindAssertEncodingForProtocolDataResult
}

// --- BeginApplication ---

type BeginApplicationRequest struct {
	ChainID     Hash   `json:"chain_id"`
	PredHeader  []byte `json:"predecessor_block_header"`
	BlockHeader []byte `json:"block_header"`
}

func (BeginApplicationRequest) Kind() MessageKind { return KindBeginApplication }

type BeginApplicationResult struct {
	ApplicationID []byte `json:"application_id"`
}

func (BeginApplicationResult) Kind() MessageKind { return KindBeginApplicationResult }

// --- BeginConstruction ---

type BeginConstructionRequest struct {
	ChainID      Hash   `json:"chain_id"`
	PredHeader   []byte `json:"predecessor_block_header"`
	ProtocolData []byte `json:"protocol_data,omitempty"`
}

func (BeginConstructionRequest) Kind() MessageKind { return KindBeginConstruction }

type BeginConstructionResult struct {
	PrevalidatorID []byte `json:"prevalidator_id"`
}

func (BeginConstructionResult) Kind() MessageKind { return KindBeginConstructionResult }

// --- PreFilterOperation ---

type PreFilterOperationRequest struct {
	PrevalidatorID []byte `json:"prevalidator_id"`
	Operation      []byte `json:"operation"`
}

func (PreFilterOperationRequest) Kind() MessageKind { return KindPreFilterOperation }

type PreFilterOperationResult struct {
	Accepted bool `json:"accepted"`
}

func (PreFilterOperationResult) Kind() MessageKind { return KindPreFilterOperationResult }

// --- ValidateOperation ---

type ValidateOperationRequest struct {
	PrevalidatorID []byte `json:"prevalidator_id"`
	Operation      []byte `json:"operation"`
}

func (ValidateOperationRequest) Kind() MessageKind { return KindValidateOperation }

type ValidateOperationResult struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

func (ValidateOperationResult) Kind() MessageKind { return KindValidateOperationResult }

// --- ComputePath ---

type ComputePathRequest struct {
	OperationHashes [][]Hash `json:"operation_hashes_per_pass"`
}

func (ComputePathRequest) Kind() MessageKind { return KindComputePath }

type ComputePathResult struct {
	OperationsHashesPath [][]byte `json:"operations_hashes_path"`
}

func (ComputePathResult) Kind() MessageKind { return KindComputePathResult }

// --- JsonEncodeApplyBlockResultMetadata ---

type JSONEncodeApplyBlockResultMetadataParams struct {
	ContextHash      Hash   `json:"context_hash"`
	Metadata         []byte `json:"metadata_bytes"`
	MaxOperationsTTL int    `json:"max_operations_ttl"`
	ProtocolHash     Hash   `json:"protocol_hash"`
	NextProtocolHash Hash   `json:"next_protocol_hash"`
}

func (JSONEncodeApplyBlockResultMetadataParams) Kind() MessageKind {
	return KindJSONEncodeApplyBlockResultMetadata
}

type JSONEncodeApplyBlockResultMetadataResult struct {
	JSON string `json:"json"`
}

func (JSONEncodeApplyBlockResultMetadataResult) Kind() MessageKind {
	return KindJSONEncodeApplyBlockResultMetadataResult
}

// --- JsonEncodeApplyBlockOperationsMetadata ---
//
// The request and the response intentionally share the wire Kind
// KindJSONEncodeApplyBlockOperationsMetadata, distinguished only by which
// side of the connection sent the frame.

type JSONEncodeApplyBlockOperationsMetadataParams struct {
	ChainID            Hash     `json:"chain_id"`
	OperationsMetadata [][]byte `json:"operations_metadata"`
	ProtocolHash       Hash     `json:"protocol_hash"`
	NextProtocolHash   Hash     `json:"next_protocol_hash"`
}

func (JSONEncodeApplyBlockOperationsMetadataParams) Kind() MessageKind {
	return KindJSONEncodeApplyBlockOperationsMetadata
}

type JSONEncodeApplyBlockOperationsMetadataResult struct {
	JSON string `json:"json"`
}

func (JSONEncodeApplyBlockOperationsMetadataResult) Kind() MessageKind {
	return KindJSONEncodeApplyBlockOperationsMetadata
}

// --- CallProtocolRpc ---
//
// The runner exposes exactly one protocol-RPC call, always routed through
// the 30-minute very-long timeout budget; there is no separate
// lighter-weight variant.

type CallProtocolRPCRequest struct {
	ChainID     Hash   `json:"chain_id"`
	BlockHeader []byte `json:"block_header"`
	RequestPath string `json:"request_path"`
	RequestBody []byte `json:"request_body"`
}

func (CallProtocolRPCRequest) Kind() MessageKind { return KindCallProtocolRPC }

type CallProtocolRPCResult struct {
	Body []byte `json:"body"`
}

func (CallProtocolRPCResult) Kind() MessageKind { return KindCallProtocolRPCResult }

// --- GenesisResultData ---

// GenesisResultDataParams carries the genesis chain id, protocol hash, and
// max operations ttl the caller has already derived locally from its
// Environment, plus the genesis context hash, so the runner can commit the
// genesis block and report back its block/operations metadata.
type GenesisResultDataParams struct {
	GenesisContextHash      Hash `json:"genesis_context_hash"`
	ChainID                 Hash `json:"chain_id"`
	GenesisProtocolHash     Hash `json:"genesis_protocol_hash"`
	GenesisMaxOperationsTTL int  `json:"genesis_max_operations_ttl"`
}

func (GenesisResultDataParams) Kind() MessageKind { return KindGenesisResultData }

// CommitGenesisResult is the runner's committed genesis block and operations
// metadata, encoded as protocol-specific opaque bytes.
type CommitGenesisResult struct {
	BlockHeaderProtoMetadataBytes []byte   `json:"block_header_proto_metadata_bytes,omitempty"`
	OperationsProtoMetadataBytes  [][]byte `json:"operations_proto_metadata_bytes,omitempty"`
}

func (CommitGenesisResult) Kind() MessageKind { return KindCommitGenesisResultData }

// --- HelpersPreapplyOperations / HelpersPreapplyBlock ---

type HelpersPreapplyOperationsRequest struct {
	ChainID    Hash     `json:"chain_id"`
	Operations [][]byte `json:"operations"`
}

func (HelpersPreapplyOperationsRequest) Kind() MessageKind {
	return KindHelpersPreapplyOperations
}

type HelpersPreapplyOperationsResult struct {
	JSON string `json:"json"`
}

func (HelpersPreapplyOperationsResult) Kind() MessageKind {
	return KindHelpersPreapplyOperationsResult
}

type HelpersPreapplyBlockRequest struct {
	ChainID     Hash   `json:"chain_id"`
	BlockHeader []byte `json:"block_header"`
}

func (HelpersPreapplyBlockRequest) Kind() MessageKind { return KindHelpersPreapplyBlock }

type HelpersPreapplyBlockResult struct {
	JSON string `json:"json"`
}

func (HelpersPreapplyBlockResult) Kind() MessageKind { return KindHelpersPreapplyBlockResult }

// --- context key/tree access ---

type GetContextKeyFromHistoryRequest struct {
	ContextHash Hash     `json:"context_hash"`
	Key         []string `json:"key"`
}

func (GetContextKeyFromHistoryRequest) Kind() MessageKind {
	return KindGetContextKeyFromHistory
}

type GetContextKeyFromHistoryResult struct {
	Value []byte `json:"value,omitempty"`
}

func (GetContextKeyFromHistoryResult) Kind() MessageKind {
	return KindGetContextKeyFromHistoryResult
}

type GetContextKeyValuesByPrefixRequest struct {
	ContextHash Hash     `json:"context_hash"`
	Prefix      []string `json:"prefix"`
}

func (GetContextKeyValuesByPrefixRequest) Kind() MessageKind {
	return KindGetContextKeyValuesByPrefix
}

type GetContextKeyValuesByPrefixResult struct {
	Values map[string][]byte `json:"values"`
}

func (GetContextKeyValuesByPrefixResult) Kind() MessageKind {
	return KindGetContextKeyValuesByPrefixResult
}

type GetContextTreeByPrefixRequest struct {
	ContextHash Hash     `json:"context_hash"`
	Prefix      []string `json:"prefix"`
}

func (GetContextTreeByPrefixRequest) Kind() MessageKind {
	return KindGetContextTreeByPrefix
}

type GetContextTreeByPrefixResult struct {
	Tree map[string][]byte `json:"tree"`
}

func (GetContextTreeByPrefixResult) Kind() MessageKind {
	return KindGetContextTreeByPrefixResult
}

// --- DumpContext / RestoreContext ---

type DumpContextRequest struct {
	ContextHash Hash   `json:"context_hash"`
	DumpPath    string `json:"dump_path"`
}

func (DumpContextRequest) Kind() MessageKind { return KindDumpContext }

type DumpContextResult struct {
	Bytes int64 `json:"bytes"`
}

func (DumpContextResult) Kind() MessageKind { return KindDumpContextResult }

type RestoreContextRequest struct {
	RestorePath string `json:"restore_path"`
}

func (RestoreContextRequest) Kind() MessageKind { return KindRestoreContext }

type RestoreContextResult struct{}

func (RestoreContextResult) Kind() MessageKind { return KindRestoreContextResult }

// Message kind constants. One pair of request/result constants per command
// in the runner's surface, except JsonEncodeApplyBlockOperationsMetadata,
// whose request and response intentionally share a single Kind (see the
// type above).
const (
	KindPing       MessageKind = "Ping"
	KindPingResult MessageKind = "PingResult"

	KindShutdown       MessageKind = "Shutdown"
	KindShutdownResult MessageKind = "ShutdownResult"

	KindChangeRuntimeConfiguration       MessageKind = "ChangeRuntimeConfiguration"
	KindChangeRuntimeConfigurationResult MessageKind = "ChangeRuntimeConfigurationResult"

	KindInitProtocolContext       MessageKind = "InitProtocolContext"
	KindInitProtocolContextResult MessageKind = "InitProtocolContextResult"

	KindInitContextIPCServer       MessageKind = "InitContextIpcServer"
	KindInitContextIPCServerResult MessageKind = "InitContextIpcServerResult"

	KindApplyBlock       MessageKind = "ApplyBlock"
	KindApplyBlockResult MessageKind = "ApplyBlockResult"

	KindLatestContextHashes       MessageKind = "GetLatestContextHashes"
	KindLatestContextHashesResult MessageKind = "GetLatestContextHashesResult"

	KindAssertEncodingForProtocolData       MessageKind = "AssertEncodingForProtocolData"
	KindAssertEncodingForProtocolDataResult MessageKind = "AssertEncodingForProtocolDataResult"

	KindBeginApplication       MessageKind = "BeginApplication"
	KindBeginApplicationResult MessageKind = "BeginApplicationResult"

	KindBeginConstruction       MessageKind = "BeginConstruction"
	KindBeginConstructionResult MessageKind = "BeginConstructionResult"

	KindPreFilterOperation       MessageKind = "PreFilterOperation"
	KindPreFilterOperationResult MessageKind = "PreFilterOperationResult"

	KindValidateOperation       MessageKind = "ValidateOperation"
	KindValidateOperationResult MessageKind = "ValidateOperationResult"

	KindComputePath       MessageKind = "ComputePath"
	KindComputePathResult MessageKind = "ComputePathResult"

	KindJSONEncodeApplyBlockResultMetadata       MessageKind = "JsonEncodeApplyBlockResultMetadata"
	KindJSONEncodeApplyBlockResultMetadataResult MessageKind = "JsonEncodeApplyBlockResultMetadataResult"

	KindJSONEncodeApplyBlockOperationsMetadata MessageKind = "JsonEncodeApplyBlockOperationsMetadata"

	KindCallProtocolRPC       MessageKind = "CallProtocolRpc"
	KindCallProtocolRPCResult MessageKind = "CallProtocolRpcResult"

	KindGenesisResultData       MessageKind = "GenesisResultDataCall"
	KindCommitGenesisResultData MessageKind = "CommitGenesisResultData"

	KindHelpersPreapplyOperations       MessageKind = "HelpersPreapplyOperations"
	KindHelpersPreapplyOperationsResult MessageKind = "HelpersPreapplyOperationsResult"

	KindHelpersPreapplyBlock       MessageKind = "HelpersPreapplyBlock"
	KindHelpersPreapplyBlockResult MessageKind = "HelpersPreapplyBlockResult"

	KindGetContextKeyFromHistory       MessageKind = "GetContextKeyFromHistory"
	KindGetContextKeyFromHistoryResult MessageKind = "GetContextKeyFromHistoryResult"

	KindGetContextKeyValuesByPrefix       MessageKind = "GetContextKeyValuesByPrefix"
	KindGetContextKeyValuesByPrefixResult MessageKind = "GetContextKeyValuesByPrefixResult"

	KindGetContextTreeByPrefix       MessageKind = "GetContextTreeByPrefix"
	KindGetContextTreeByPrefixResult MessageKind = "GetContextTreeByPrefixResult"

	KindDumpContext       MessageKind = "DumpContext"
	KindDumpContextResult MessageKind = "DumpContextResult"

	KindRestoreContext       MessageKind = "RestoreContext"
	KindRestoreContextResult MessageKind = "RestoreContextResult"
)

// responseDecoders maps a response Kind to a function that decodes a raw
// JSON payload into the corresponding concrete Response. Adding a new
// command means adding one row here and one to the command table in
// connection.go, never touching Transport.Receive.
var responseDecoders = map[MessageKind]func(json.RawMessage) (Response, error){
	KindPingResult:     decodeInto[PingResponse],
	KindShutdownResult: decodeInto[ShutdownResult],

	KindChangeRuntimeConfigurationResult:    decodeInto[ChangeRuntimeConfigurationResult],
	KindInitProtocolContextResult:           decodeInto[InitProtocolContextResponse],
	KindInitContextIPCServerResult:          decodeInto[InitContextIPCServerResult],
	KindApplyBlockResult:                    decodeInto[ApplyBlockResult],
	KindLatestContextHashesResult:           decodeInto[LatestContextHashesResult],
	KindAssertEncodingForProtocolDataResult: decodeInto[AssertEncodingForProtocolDataResult],
	KindBeginApplicationResult:              decodeInto[BeginApplicationResult],
	KindBeginConstructionResult:             decodeInto[BeginConstructionResult],
	KindPreFilterOperationResult:            decodeInto[PreFilterOperationResult],
	KindValidateOperationResult:             decodeInto[ValidateOperationResult],
	KindComputePathResult:                   decodeInto[ComputePathResult],

	KindJSONEncodeApplyBlockResultMetadataResult: decodeInto[JSONEncodeApplyBlockResultMetadataResult],
	KindJSONEncodeApplyBlockOperationsMetadata:   decodeInto[JSONEncodeApplyBlockOperationsMetadataResult],

	KindCallProtocolRPCResult:             decodeInto[CallProtocolRPCResult],
	KindCommitGenesisResultData:           decodeInto[CommitGenesisResult],
	KindHelpersPreapplyOperationsResult:   decodeInto[HelpersPreapplyOperationsResult],
	KindHelpersPreapplyBlockResult:        decodeInto[HelpersPreapplyBlockResult],
	KindGetContextKeyFromHistoryResult:    decodeInto[GetContextKeyFromHistoryResult],
	KindGetContextKeyValuesByPrefixResult: decodeInto[GetContextKeyValuesByPrefixResult],
	KindGetContextTreeByPrefixResult:      decodeInto[GetContextTreeByPrefixResult],
	KindDumpContextResult:                 decodeInto[DumpContextResult],
	KindRestoreContextResult:              decodeInto[RestoreContextResult],
}

func decodeInto[T Response](raw json.RawMessage) (Response, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// decodeResponse decodes a raw envelope payload given its Kind.
func decodeResponse(kind MessageKind, raw json.RawMessage) (Response, error) {
	decode, ok := responseDecoders[kind]
	if !ok {
		return nil, &UnexpectedMessageError{ReceivedKind: string(kind)}
	}
	return decode(raw)
}

// requestDecoders is responseDecoders's mirror image on the request side,
// used by the runner side of the socket (protocolrunnertest) to decode an
// incoming call.
var requestDecoders = map[MessageKind]func(json.RawMessage) (Request, error){
	KindPing:                          decodeRequestInto[PingRequest],
	KindShutdown:                      decodeRequestInto[ShutdownRequest],
	KindChangeRuntimeConfiguration:    decodeRequestInto[ChangeRuntimeConfigurationRequest],
	KindInitProtocolContext:           decodeRequestInto[InitProtocolContextParams],
	KindInitContextIPCServer:          decodeRequestInto[InitContextIPCServerParams],
	KindApplyBlock:                    decodeRequestInto[ApplyBlockRequest],
	KindLatestContextHashes:           decodeRequestInto[LatestContextHashesRequest],
	KindAssertEncodingForProtocolData: decodeRequestInto[AssertEncodingForProtocolDataRequest],
	KindBeginApplication:              decodeRequestInto[BeginApplicationRequest],
	KindBeginConstruction:             decodeRequestInto[BeginConstructionRequest],
	KindPreFilterOperation:            decodeRequestInto[PreFilterOperationRequest],
	KindValidateOperation:             decodeRequestInto[ValidateOperationRequest],
	KindComputePath:                   decodeRequestInto[ComputePathRequest],

	KindJSONEncodeApplyBlockResultMetadata:     decodeRequestInto[JSONEncodeApplyBlockResultMetadataParams],
	KindJSONEncodeApplyBlockOperationsMetadata: decodeRequestInto[JSONEncodeApplyBlockOperationsMetadataParams],

	KindCallProtocolRPC:             decodeRequestInto[CallProtocolRPCRequest],
	KindGenesisResultData:           decodeRequestInto[GenesisResultDataParams],
	KindHelpersPreapplyOperations:   decodeRequestInto[HelpersPreapplyOperationsRequest],
	KindHelpersPreapplyBlock:        decodeRequestInto[HelpersPreapplyBlockRequest],
	KindGetContextKeyFromHistory:    decodeRequestInto[GetContextKeyFromHistoryRequest],
	KindGetContextKeyValuesByPrefix: decodeRequestInto[GetContextKeyValuesByPrefixRequest],
	KindGetContextTreeByPrefix:      decodeRequestInto[GetContextTreeByPrefixRequest],
	KindDumpContext:                 decodeRequestInto[DumpContextRequest],
	KindRestoreContext:              decodeRequestInto[RestoreContextRequest],
}

func decodeRequestInto[T Request](raw json.RawMessage) (Request, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func decodeRequest(kind MessageKind, raw json.RawMessage) (Request, error) {
	decode, ok := requestDecoders[kind]
	if !ok {
		return nil, &UnexpectedMessageError{ReceivedKind: string(kind)}
	}
	return decode(raw)
}
