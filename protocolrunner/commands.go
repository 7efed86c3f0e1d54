package protocolrunner

import (
	"context"
	"errors"
)

// Ping round-trips a liveness check against the runner.
func (c *Connection) Ping(ctx context.Context) error {
	_, err := call[PingRequest, PingResponse](ctx, c, PingRequest{})
	return err
}

// Shutdown asks the runner to exit cleanly.
func (c *Connection) Shutdown(ctx context.Context) error {
	_, err := call[ShutdownRequest, ShutdownResult](ctx, c, ShutdownRequest{})
	return err
}

// ChangeRuntimeConfiguration applies rc to the runner's logging and
// transaction-pool behavior.
func (c *Connection) ChangeRuntimeConfiguration(ctx context.Context, rc RuntimeConfiguration) error {
	req := ChangeRuntimeConfigurationRequest{
		LogLevel:                rc.LogLevel.String(),
		LogFormat:               rc.LogFormat,
		TransactionPoolOverflow: rc.TransactionPoolOverflow,
	}
	_, err := call[ChangeRuntimeConfigurationRequest, ChangeRuntimeConfigurationResult](ctx, c, req)
	return err
}

// initProtocolContext is unexported: callers normally reach it only through
// InitProtocolForWrite/InitProtocolForRead, which pin the readonly and
// commit-genesis flags to a coherent combination.
func (c *Connection) initProtocolContext(ctx context.Context, readonly, commitGenesis bool, patchContext *string) (InitProtocolContextResponse, error) {
	req := InitProtocolContextParams{
		StorageDataDir:  c.config.Storage.DataDir,
		GenesisHash:     Hash(c.config.Environment.GenesisBlock),
		Readonly:        readonly,
		CommitGenesis:   commitGenesis,
		EnableTestchain: c.config.EnableTestchain,
		PatchContext:    patchContext,
	}
	return call[InitProtocolContextParams, InitProtocolContextResponse](ctx, c, req)
}

// InitProtocolContextRaw exposes initProtocolContext directly, for callers
// that need fine-grained control over readonly/commit-genesis/patch-context
// rather than going through one of the two composite init operations.
func (c *Connection) InitProtocolContextRaw(ctx context.Context, readonly, commitGenesis bool, patchContext *string) (InitProtocolContextResponse, error) {
	return c.initProtocolContext(ctx, readonly, commitGenesis, patchContext)
}

// initContextIPCServer is gated on the node having configured an IPC socket
// path for the context server; calling it when none is configured is a
// no-op.
func (c *Connection) initContextIPCServer(ctx context.Context) error {
	if c.config.Storage.IPCSocketPath == nil {
		return nil
	}
	req := InitContextIPCServerParams{IPCSocketPath: *c.config.Storage.IPCSocketPath}
	_, err := call[InitContextIPCServerParams, InitContextIPCServerResult](ctx, c, req)
	return err
}

// InitContextIPCServerRaw exposes initContextIPCServer for callers that
// need to reinitialize it after a storage configuration change; it is not
// invoked automatically on such a change.
func (c *Connection) InitContextIPCServerRaw(ctx context.Context) error {
	return c.initContextIPCServer(ctx)
}

// InitProtocolForWrite runs the composite sequence a writer connection
// (the one that will apply blocks) performs at startup: apply the runtime
// configuration, initialize the context read-write, then bring up the
// context IPC server if one is configured. Once this completes the caller
// should signal Readiness via the owning ProtocolRunnerApi.
func (c *Connection) InitProtocolForWrite(ctx context.Context, commitGenesis bool, patchContext *string) (InitProtocolContextResponse, error) {
	if err := c.ChangeRuntimeConfiguration(ctx, c.config.RuntimeConfig); err != nil {
		return InitProtocolContextResponse{}, err
	}
	resp, err := c.initProtocolContext(ctx, false, commitGenesis, patchContext)
	if err != nil {
		return InitProtocolContextResponse{}, err
	}
	if err := c.initContextIPCServer(ctx); err != nil {
		return InitProtocolContextResponse{}, err
	}
	return resp, nil
}

// InitProtocolForRead runs the composite sequence a read-only connection
// performs: apply the runtime configuration, then initialize the context
// read-only without committing genesis or patching it.
func (c *Connection) InitProtocolForRead(ctx context.Context) (InitProtocolContextResponse, error) {
	if err := c.ChangeRuntimeConfiguration(ctx, c.config.RuntimeConfig); err != nil {
		return InitProtocolContextResponse{}, err
	}
	return c.initProtocolContext(ctx, true, false, nil)
}

// GenesisResultDataRaw issues GenesisResultDataCall directly with the given
// params, for callers that have already derived chain id, genesis protocol
// hash, and max operations ttl themselves.
func (c *Connection) GenesisResultDataRaw(ctx context.Context, params GenesisResultDataParams) (CommitGenesisResult, error) {
	return call[GenesisResultDataParams, CommitGenesisResult](ctx, c, params)
}

// GenesisResultData derives the genesis chain id, protocol hash, and max
// operations ttl from the connection's configured Environment (returning
// InvalidDataError if that configuration is incomplete), then issues
// GenesisResultDataCall so the runner can commit the genesis block and
// report back its metadata.
func (c *Connection) GenesisResultData(ctx context.Context, genesisContextHash Hash) (CommitGenesisResult, error) {
	env := c.config.Environment
	if env.ChainID == "" || env.GenesisProtocol == "" {
		return CommitGenesisResult{}, &InvalidDataError{Message: "environment configuration is missing chain id or genesis protocol"}
	}
	if len(genesisContextHash) == 0 {
		return CommitGenesisResult{}, &InvalidDataError{Message: "genesis context hash is empty"}
	}
	return c.GenesisResultDataRaw(ctx, GenesisResultDataParams{
		GenesisContextHash:      genesisContextHash,
		ChainID:                 Hash(env.ChainID),
		GenesisProtocolHash:     Hash(env.GenesisProtocol),
		GenesisMaxOperationsTTL: env.GenesisMaxOperationsTTL,
	})
}

// ApplyBlock applies a block to the context, the runner's single longest-
// running and most expensive command.
func (c *Connection) ApplyBlock(ctx context.Context, req ApplyBlockRequest) (ApplyBlockResult, error) {
	return call[ApplyBlockRequest, ApplyBlockResult](ctx, c, req)
}

// LatestContextHashes retrieves up to count of the most recent context
// hashes the runner has applied.
func (c *Connection) LatestContextHashes(ctx context.Context, count int) (LatestContextHashesResult, error) {
	return call[LatestContextHashesRequest, LatestContextHashesResult](ctx, c, LatestContextHashesRequest{Count: count})
}

// AssertEncodingForProtocolData validates that data decodes under the
// protocol identified by protocolHash.
func (c *Connection) AssertEncodingForProtocolData(ctx context.Context, protocolHash Hash, data []byte) error {
	req := AssertEncodingForProtocolDataRequest{ProtocolHash: protocolHash, Data: data}
	_, err := call[AssertEncodingForProtocolDataRequest, AssertEncodingForProtocolDataResult](ctx, c, req)
	return err
}

// BeginApplication begins validating a block against its predecessor ahead
// of a full ApplyBlock.
func (c *Connection) BeginApplication(ctx context.Context, req BeginApplicationRequest) (BeginApplicationResult, error) {
	return call[BeginApplicationRequest, BeginApplicationResult](ctx, c, req)
}

// BeginConstruction begins constructing a new block (or a mempool
// prevalidation context) atop the given predecessor.
func (c *Connection) BeginConstruction(ctx context.Context, req BeginConstructionRequest) (BeginConstructionResult, error) {
	return call[BeginConstructionRequest, BeginConstructionResult](ctx, c, req)
}

// PreFilterOperation performs a cheap, stateless acceptance check on an
// operation before it is fully validated.
func (c *Connection) PreFilterOperation(ctx context.Context, prevalidatorID, operation []byte) (bool, error) {
	req := PreFilterOperationRequest{PrevalidatorID: prevalidatorID, Operation: operation}
	resp, err := call[PreFilterOperationRequest, PreFilterOperationResult](ctx, c, req)
	return resp.Accepted, err
}

// ValidateOperation fully validates operation against the prevalidator
// state identified by prevalidatorID.
func (c *Connection) ValidateOperation(ctx context.Context, prevalidatorID, operation []byte) (ValidateOperationResult, error) {
	req := ValidateOperationRequest{PrevalidatorID: prevalidatorID, Operation: operation}
	return call[ValidateOperationRequest, ValidateOperationResult](ctx, c, req)
}

// ComputePath computes the Merkle path for each pass's operation hashes.
func (c *Connection) ComputePath(ctx context.Context, operationHashesPerPass [][]Hash) (ComputePathResult, error) {
	return call[ComputePathRequest, ComputePathResult](ctx, c, ComputePathRequest{OperationHashes: operationHashesPerPass})
}

// ApplyBlockResultMetadata renders a previously-applied block's metadata as
// protocol-specific JSON.
func (c *Connection) ApplyBlockResultMetadata(ctx context.Context, contextHash Hash, metadata []byte, maxOperationsTTL int, protocolHash, nextProtocolHash Hash) (string, error) {
	req := JSONEncodeApplyBlockResultMetadataParams{
		ContextHash:      contextHash,
		Metadata:         metadata,
		MaxOperationsTTL: maxOperationsTTL,
		ProtocolHash:     protocolHash,
		NextProtocolHash: nextProtocolHash,
	}
	resp, err := call[JSONEncodeApplyBlockResultMetadataParams, JSONEncodeApplyBlockResultMetadataResult](ctx, c, req)
	return resp.JSON, err
}

// ApplyBlockOperationsMetadata renders a previously-applied block's
// per-operation metadata as protocol-specific JSON.
func (c *Connection) ApplyBlockOperationsMetadata(ctx context.Context, chainID Hash, operationsMetadata [][]byte, protocolHash, nextProtocolHash Hash) (string, error) {
	req := JSONEncodeApplyBlockOperationsMetadataParams{
		ChainID:            chainID,
		OperationsMetadata: operationsMetadata,
		ProtocolHash:       protocolHash,
		NextProtocolHash:   nextProtocolHash,
	}
	resp, err := call[JSONEncodeApplyBlockOperationsMetadataParams, JSONEncodeApplyBlockOperationsMetadataResult](ctx, c, req)
	return resp.JSON, err
}

// CallProtocolRPC forwards an RPC request path and body into the protocol's
// own RPC dispatch. The runner has no lighter-weight variant of this call:
// every invocation runs under the same very-long (30-minute) timeout budget.
func (c *Connection) CallProtocolRPC(ctx context.Context, req CallProtocolRPCRequest) ([]byte, error) {
	resp, err := call[CallProtocolRPCRequest, CallProtocolRPCResult](ctx, c, req)
	if err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			// Tag the failure with the request path so a caller juggling
			// several RPC dispatches can tell which one the runner refused.
			return nil, &ProtocolError{Kind: protoErr.Kind, Reason: req.RequestPath + ": " + protoErr.Reason}
		}
		return nil, err
	}
	return resp.Body, nil
}

// HelpersPreapplyOperations dry-runs applying a batch of operations,
// returning the protocol's own preapply JSON result.
func (c *Connection) HelpersPreapplyOperations(ctx context.Context, chainID Hash, operations [][]byte) (string, error) {
	req := HelpersPreapplyOperationsRequest{ChainID: chainID, Operations: operations}
	resp, err := call[HelpersPreapplyOperationsRequest, HelpersPreapplyOperationsResult](ctx, c, req)
	return resp.JSON, err
}

// HelpersPreapplyBlock dry-runs applying a block, returning the protocol's
// own preapply JSON result.
func (c *Connection) HelpersPreapplyBlock(ctx context.Context, chainID Hash, blockHeader []byte) (string, error) {
	req := HelpersPreapplyBlockRequest{ChainID: chainID, BlockHeader: blockHeader}
	resp, err := call[HelpersPreapplyBlockRequest, HelpersPreapplyBlockResult](ctx, c, req)
	return resp.JSON, err
}

// GetContextKeyFromHistory reads a single key's value as of contextHash.
func (c *Connection) GetContextKeyFromHistory(ctx context.Context, contextHash Hash, key []string) ([]byte, error) {
	req := GetContextKeyFromHistoryRequest{ContextHash: contextHash, Key: key}
	resp, err := call[GetContextKeyFromHistoryRequest, GetContextKeyFromHistoryResult](ctx, c, req)
	return resp.Value, err
}

// GetContextKeyValuesByPrefix reads every key/value pair under prefix as of
// contextHash.
func (c *Connection) GetContextKeyValuesByPrefix(ctx context.Context, contextHash Hash, prefix []string) (map[string][]byte, error) {
	req := GetContextKeyValuesByPrefixRequest{ContextHash: contextHash, Prefix: prefix}
	resp, err := call[GetContextKeyValuesByPrefixRequest, GetContextKeyValuesByPrefixResult](ctx, c, req)
	return resp.Values, err
}

// GetContextTreeByPrefix reads the subtree rooted at prefix as of
// contextHash.
func (c *Connection) GetContextTreeByPrefix(ctx context.Context, contextHash Hash, prefix []string) (map[string][]byte, error) {
	req := GetContextTreeByPrefixRequest{ContextHash: contextHash, Prefix: prefix}
	resp, err := call[GetContextTreeByPrefixRequest, GetContextTreeByPrefixResult](ctx, c, req)
	return resp.Tree, err
}

// DumpContext writes the full context as of contextHash to dumpPath. This
// command has no timeout: callers that need one should derive it from ctx's
// own deadline.
func (c *Connection) DumpContext(ctx context.Context, contextHash Hash, dumpPath string) (int64, error) {
	req := DumpContextRequest{ContextHash: contextHash, DumpPath: dumpPath}
	resp, err := call[DumpContextRequest, DumpContextResult](ctx, c, req)
	return resp.Bytes, err
}

// RestoreContext restores a context previously written by DumpContext. Like
// DumpContext, this command has no timeout.
func (c *Connection) RestoreContext(ctx context.Context, restorePath string) error {
	_, err := call[RestoreContextRequest, RestoreContextResult](ctx, c, RestoreContextRequest{RestorePath: restorePath})
	return err
}
