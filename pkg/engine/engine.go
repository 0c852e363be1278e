// Package engine executes process definitions: it advances tokens through
// the definition graph, evaluates gateways, runs activities and records
// every terminal instance in the durable store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bonitasoft/bonita-engine-sub045/internal/appcontext"
	"github.com/bonitasoft/bonita-engine-sub045/internal/log"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/bdm"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine/runtime"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/flake"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/model"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/script"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/script/feel"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/script/js"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage/inmemory"
)

const definitionCacheSize = 64

// TaskHandler executes the body of an automatic activity. Variables set
// through the holder are propagated into the process instance scope.
type TaskHandler func(ctx context.Context, variables *runtime.VariableHolder) error

// ConnectorHandler executes a declared connector. Returned values are
// propagated into the process instance scope.
type ConnectorHandler func(ctx context.Context, input map[string]string, variables *runtime.VariableHolder) (map[string]any, error)

type Engine struct {
	name              string
	logger            hclog.Logger
	snowflake         *snowflake.Node
	persistence       storage.Storage
	definitionCache   *lru.Cache[int64, *model.ProcessDefinition]
	expressions       script.ExpressionRuntime
	scripts           script.ScriptRuntime
	binder            *bdm.Binder
	taskHandlers      map[string]TaskHandler
	connectorHandlers map[string]ConnectorHandler
	scheduleTimers    bool

	// one logical owner per live process instance
	instanceLocks sync.Map
}

type EngineOption = func(*Engine)

// NewEngine creates a new process engine. Without options it runs fully
// in memory with the default expression and script runtimes.
func NewEngine(options ...EngineOption) *Engine {
	generator := flake.Generator()
	engine := Engine{
		name:              fmt.Sprintf("flow-engine-%d", generator.Generate().Int64()),
		logger:            log.Named("engine"),
		snowflake:         generator,
		taskHandlers:      map[string]TaskHandler{},
		connectorHandlers: map[string]ConnectorHandler{},
		scheduleTimers:    true,
	}
	for _, option := range options {
		option(&engine)
	}
	if engine.persistence == nil {
		engine.persistence = inmemory.New()
	}
	if engine.expressions == nil {
		engine.expressions = feel.NewFeelRuntime()
	}
	if engine.scripts == nil {
		engine.scripts = js.NewJsRuntime(context.Background(), 4, 1)
	}
	if engine.binder == nil {
		engine.binder = bdm.NewBinder(bdm.NewInMemoryRepository())
	}
	engine.definitionCache, _ = lru.New[int64, *model.ProcessDefinition](definitionCacheSize)
	return &engine
}

func EngineWithName(name string) EngineOption {
	return func(engine *Engine) { engine.name = name }
}

func EngineWithStorage(persistence storage.Storage) EngineOption {
	return func(engine *Engine) { engine.persistence = persistence }
}

func EngineWithExpressionRuntime(expressions script.ExpressionRuntime) EngineOption {
	return func(engine *Engine) { engine.expressions = expressions }
}

func EngineWithScriptRuntime(scripts script.ScriptRuntime) EngineOption {
	return func(engine *Engine) { engine.scripts = scripts }
}

func EngineWithBusinessDataRepository(repository bdm.Repository) EngineOption {
	return func(engine *Engine) { engine.binder = bdm.NewBinder(repository) }
}

// EngineWithoutTimerScheduling disables the in-process timer scheduler;
// timer events then wait until an external trigger source delivers them.
func EngineWithoutTimerScheduling() EngineOption {
	return func(engine *Engine) { engine.scheduleTimers = false }
}

// Name returns the name of the engine, only useful in case you control
// multiple ones.
func (engine *Engine) Name() string {
	return engine.name
}

// BusinessData returns the business data binder of this engine.
func (engine *Engine) BusinessData() *bdm.Binder {
	return engine.binder
}

// RegisterTaskHandler binds a handler to automatic activities with the
// given node name.
func (engine *Engine) RegisterTaskHandler(nodeName string, handler TaskHandler) {
	engine.taskHandlers[nodeName] = handler
}

// RegisterConnectorHandler binds a handler to connectors declared with the
// given connector name.
func (engine *Engine) RegisterConnectorHandler(connectorName string, handler ConnectorHandler) {
	engine.connectorHandlers[connectorName] = handler
}

// DeployDefinition parses, validates and stores a YAML process definition.
// Redeploying unchanged data returns the already deployed definition;
// changed data is stored as a new version under the same name.
func (engine *Engine) DeployDefinition(ctx context.Context, data []byte) (*model.ProcessDefinition, error) {
	definition, err := model.ParseDefinition(data, engine.generateKey())
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to parse process definition"), err)
	}
	deployed, err := engine.persistence.FindProcessDefinitionsByName(ctx, definition.Name)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to load deployed definitions with name %q", definition.Name), err)
	}
	if len(deployed) > 0 {
		latest := deployed[len(deployed)-1]
		if latest.Checksum == definition.Checksum {
			return latest, nil
		}
		definition.Version = latest.Version + 1
	}
	if err := engine.persistence.SaveProcessDefinition(ctx, definition); err != nil {
		return nil, errors.Join(newEngineErrorf("failed to store process definition %q", definition.Name), err)
	}
	engine.definitionCache.Add(definition.Key, definition)
	engine.logger.Info("deployed process definition",
		"name", definition.Name, "version", definition.Version, "key", definition.Key)
	return definition, nil
}

// DeployDefinitionFile reads and deploys a YAML process definition file.
func (engine *Engine) DeployDefinitionFile(ctx context.Context, filename string) (*model.ProcessDefinition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to read definition file %s", filename), err)
	}
	return engine.DeployDefinition(ctx, data)
}

// CreateInstance creates a new instance for the given process definition.
func (engine *Engine) CreateInstance(ctx context.Context, definition *model.ProcessDefinition, variableContext map[string]any) (*runtime.ProcessInstance, error) {
	instance := runtime.ProcessInstance{
		Definition:     definition,
		DefinitionKey:  definition.Key,
		Key:            engine.generateKey(),
		State:          runtime.ActivityStateReady,
		VariableHolder: runtime.NewVariableHolder(nil, variableContext),
		CreatedAt:      time.Now(),
		CaughtEvents:   []runtime.CatchEvent{},
		Kind:           runtime.InstanceKindRoot,
	}
	engine.declareBusinessData(instance.Key, definition.Container)
	if err := engine.persistence.SaveProcessInstance(ctx, instance); err != nil {
		return nil, errors.Join(newEngineErrorf("failed to store process instance %d", instance.Key), err)
	}
	return &instance, nil
}

// CreateInstanceByName creates a new instance for the latest deployed
// version of the named process.
func (engine *Engine) CreateInstanceByName(ctx context.Context, name string, variableContext map[string]any) (*runtime.ProcessInstance, error) {
	definition, err := engine.persistence.FindLatestProcessDefinitionByName(ctx, name)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("no deployed process with name %q was found", name), err)
	}
	return engine.CreateInstance(ctx, definition, variableContext)
}

// CreateAndRunInstance creates a new instance and executes it until every
// branch either finished or suspended waiting for an external stimulus.
func (engine *Engine) CreateAndRunInstance(ctx context.Context, definitionKey int64, variableContext map[string]any) (*runtime.ProcessInstance, error) {
	definition, err := engine.definitionByKey(ctx, definitionKey)
	if err != nil {
		return nil, err
	}
	instance, err := engine.CreateInstance(ctx, definition, variableContext)
	if err != nil {
		return nil, err
	}
	if err := engine.run(ctx, instance); err != nil {
		return nil, errors.Join(newEngineErrorf("failed to run process instance %d", instance.Key), err)
	}
	return instance, nil
}

// CreateAndRunInstanceByName is CreateAndRunInstance against the latest
// deployed version of the named process.
func (engine *Engine) CreateAndRunInstanceByName(ctx context.Context, name string, variableContext map[string]any) (*runtime.ProcessInstance, error) {
	instance, err := engine.CreateInstanceByName(ctx, name, variableContext)
	if err != nil {
		return nil, err
	}
	if err := engine.run(ctx, instance); err != nil {
		return nil, errors.Join(newEngineErrorf("failed to run process instance %d", instance.Key), err)
	}
	return instance, nil
}

// RunOrContinueInstance runs or continues a process instance by key. Does
// nothing when the instance is already terminal, except for a failed
// instance: that one is re-driven from its running tokens so a resolved
// incident retries from where the fault struck.
func (engine *Engine) RunOrContinueInstance(ctx context.Context, processInstanceKey int64) (*runtime.ProcessInstance, error) {
	instance, err := engine.loadInstance(ctx, processInstanceKey)
	if err != nil {
		return nil, err
	}
	if instance.State.Terminal() && instance.State != runtime.ActivityStateFailed {
		return &instance, nil
	}
	if err := engine.run(ctx, &instance); err != nil {
		return nil, errors.Join(newEngineErrorf("failed to continue process instance %d", processInstanceKey), err)
	}
	return &instance, nil
}

// FindProcessInstance returns the process instance stored under the key.
func (engine *Engine) FindProcessInstance(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error) {
	return engine.loadInstance(ctx, processInstanceKey)
}

// FindProcessDefinitionsByName returns the deployed versions of the named
// process, ordered by version from 1 (first) to the largest (last).
func (engine *Engine) FindProcessDefinitionsByName(ctx context.Context, name string) ([]*model.ProcessDefinition, error) {
	return engine.persistence.FindProcessDefinitionsByName(ctx, name)
}

// run drives the instance until the command queue drains and no pending
// stimulus (wakeable catcher, ready inclusive gateway) remains. Follow-up
// work on other instances runs after the instance lock is released.
func (engine *Engine) run(ctx context.Context, instance *runtime.ProcessInstance, extra ...command) error {
	followUps, err := engine.runLocked(ctx, instance, extra...)
	for _, followUp := range followUps {
		followUp()
	}
	return err
}

func (engine *Engine) runLocked(ctx context.Context, instance *runtime.ProcessInstance, extra ...command) (followUps []func(), err error) {
	mu := engine.lockInstance(instance.Key)
	defer mu.Unlock()

	ctx = appcontext.WithExecutionKey(ctx, engine.snowflake.Generate().Int64())
	batch := engine.persistence.NewBatch()
	var commandQueue []command

	switch instance.State {
	case runtime.ActivityStateReady:
		container, err := engine.executionContainer(instance)
		if err != nil {
			return nil, err
		}
		for _, startEvent := range triggerableStartEvents(container) {
			token := engine.newToken(instance, startEvent.ID, 0)
			commandQueue = append(commandQueue, nodeCommand{node: startEvent, token: token})
		}
		instance.State = runtime.ActivityStateActive
	case runtime.ActivityStateActive, runtime.ActivityStateFailed:
		// re-drive tokens left running by an interrupted or failed pass
		tokens, err := engine.persistence.FindTokens(ctx, instance.Key, runtime.TokenStateRunning)
		if err != nil {
			return nil, errors.Join(newEngineErrorf("failed to find running tokens of instance %d", instance.Key), err)
		}
		for _, token := range tokens {
			node := instance.Definition.NodeByID(token.NodeID)
			if node == nil {
				return nil, newEngineErrorf("token %d rests on unknown node %d", token.Key, token.NodeID)
			}
			commandQueue = append(commandQueue, nodeCommand{node: node, token: token})
		}
		instance.State = runtime.ActivityStateActive
	default:
		return nil, nil
	}
	commandQueue = append(commandQueue, extra...)

	for {
		// *** MAIN LOOP ***
		for len(commandQueue) > 0 {
			cmd := commandQueue[0]
			commandQueue = commandQueue[1:]

			switch tCmd := cmd.(type) {
			case flowTransitionCommand:
				target := instance.Definition.NodeByID(tCmd.transition.Target)
				if target == nil {
					return followUps, newEngineErrorf("transition %d targets unknown node %d", tCmd.transition.ID, tCmd.transition.Target)
				}
				token := tCmd.token
				token.NodeID = target.ID
				token.State = runtime.TokenStateRunning
				batch.SaveToken(ctx, token)
				executionKey, _ := appcontext.ExecutionKeyFromContext(ctx)
				traversal := runtime.TransitionInstance{
					Key:                engine.generateKey(),
					TransitionID:       tCmd.transition.ID,
					TokenKey:           token.Key,
					ProcessInstanceKey: instance.Key,
					ExecutionKey:       executionKey,
					CreatedAt:          time.Now(),
				}
				batch.SaveTransitionInstance(ctx, traversal)
				commandQueue = append(commandQueue, nodeCommand{node: target, token: token, inboundTransition: tCmd.transition.ID, traversal: traversal})
			case nodeCommand:
				nextCommands, err := engine.handleNode(ctx, batch, instance, tCmd.node, tCmd.token, tCmd.inboundTransition)
				if tCmd.traversal.Key != 0 {
					// the token reached its target, the traversal is over
					tCmd.traversal.Terminal = true
					batch.ArchiveTransitionInstance(ctx, tCmd.traversal)
				}
				if err != nil {
					commandQueue = append(commandQueue, errorCommand{err: err, node: tCmd.node, token: tCmd.token})
				} else {
					commandQueue = append(commandQueue, nextCommands...)
				}
			case continueNodeCommand:
				nextCommands, err := engine.continueNode(ctx, batch, instance, tCmd.instance, tCmd.payload)
				if err != nil {
					node := instance.Definition.NodeByID(tCmd.instance.NodeID)
					token, tokenErr := engine.persistence.GetTokenByKey(ctx, tCmd.instance.TokenKey)
					if node == nil || tokenErr != nil {
						return followUps, errors.Join(newEngineErrorf("failed to continue flow node instance %d", tCmd.instance.Key), err)
					}
					commandQueue = append(commandQueue, errorCommand{err: err, node: node, token: token, nodeInst: &tCmd.instance})
				} else {
					commandQueue = append(commandQueue, nextCommands...)
				}
			case gatewayFireCommand:
				nextCommands, err := engine.fireReadyGateway(ctx, batch, instance, tCmd.node)
				if err != nil {
					commandQueue = append(commandQueue, errorCommand{err: err, node: tCmd.node, token: tCmd.token})
				} else {
					commandQueue = append(commandQueue, nextCommands...)
				}
			case boundaryEventCommand:
				nextCommands, err := engine.handleBoundaryEvent(ctx, batch, instance, tCmd.node, tCmd.payload)
				if err != nil {
					return followUps, errors.Join(newEngineErrorf("failed to handle boundary event %d", tCmd.node.ID), err)
				}
				commandQueue = append(commandQueue, nextCommands...)
			case spawnInstanceCommand:
				childKey := tCmd.child.Key
				followUps = append(followUps, func() {
					if _, err := engine.RunOrContinueInstance(ctx, childKey); err != nil {
						engine.logger.Error("failed to run child instance", "key", childKey, "error", err)
					}
				})
			case continueParentCommand:
				child := tCmd.child
				followUps = append(followUps, func() {
					if err := engine.continueParent(ctx, child); err != nil {
						engine.logger.Error("failed to continue parent instance",
							"child", child.Key, "parentActivity", child.ParentActivityInstanceKey, "error", err)
					}
				})
			case errorCommand:
				engine.handleCommandError(ctx, batch, instance, tCmd)
			default:
				panic("[invariant check] command type check not fully implemented")
			}
		}

		batch.SaveProcessInstance(ctx, *instance)
		if err := batch.Flush(ctx); err != nil {
			return followUps, errors.Join(newEngineErrorf("failed to flush batch for instance %d", instance.Key), err)
		}
		if instance.State.Terminal() {
			engine.instanceLocks.Delete(instance.Key)
			return followUps, nil
		}

		stimuli, err := engine.pendingStimuli(ctx, instance)
		if err != nil {
			return followUps, err
		}
		if len(stimuli) == 0 {
			return engine.settleInstanceState(ctx, instance, followUps)
		}
		commandQueue = stimuli
		batch = engine.persistence.NewBatch()
	}
}

// settleInstanceState closes the pass of an instance that ran out of
// work without reaching a terminal state through token retirement: an
// instance left with only failed tokens becomes Failed here.
func (engine *Engine) settleInstanceState(ctx context.Context, instance *runtime.ProcessInstance, followUps []func()) ([]func(), error) {
	before := instance.State
	commands, err := engine.checkInstanceCompletion(ctx, instance)
	if err != nil {
		return followUps, err
	}
	if instance.State == before {
		return followUps, nil
	}
	batch := engine.persistence.NewBatch()
	batch.SaveProcessInstance(ctx, *instance)
	if err := batch.Flush(ctx); err != nil {
		return followUps, errors.Join(newEngineErrorf("failed to flush final state of instance %d", instance.Key), err)
	}
	if instance.State.Terminal() {
		engine.instanceLocks.Delete(instance.Key)
	}
	for _, cmd := range commands {
		if parentCmd, ok := cmd.(continueParentCommand); ok {
			child := parentCmd.child
			followUps = append(followUps, func() {
				if err := engine.continueParent(ctx, child); err != nil {
					engine.logger.Error("failed to continue parent instance",
						"child", child.Key, "parentActivity", child.ParentActivityInstanceKey, "error", err)
				}
			})
		}
	}
	return followUps, nil
}

func (engine *Engine) handleNode(ctx context.Context, batch storage.Batch, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken, inboundTransition int64) ([]command, error) {
	engine.logger.Debug("handling flow node",
		"instance", instance.Key, "node", node.ID, "name", node.Name, "token", token.Key)
	switch {
	case node.IsGateway():
		return engine.handleGatewayArrival(ctx, batch, instance, node, token, inboundTransition)
	case node.IsEvent():
		return engine.handleEvent(ctx, batch, instance, node, token)
	case node.IsActivity():
		return engine.handleActivity(ctx, batch, instance, node, token)
	}
	panic(fmt.Sprintf("[invariant check] unsupported node kind %s on node %d", node.Kind, node.ID))
}

// triggerableStartEvents returns the start events activated on plain
// instance creation: those with no declared trigger, or every start event
// when all of them are triggered.
func triggerableStartEvents(container *model.FlowElementContainer) []*model.FlowNode {
	all := container.StartEvents()
	var plain []*model.FlowNode
	for _, node := range all {
		if node.Event.Trigger == "" || node.Event.Trigger == model.TriggerNone {
			plain = append(plain, node)
		}
	}
	if len(plain) > 0 {
		return plain
	}
	return all
}

// executionContainer resolves the container whose start events drive this
// instance: the activity body for sub-process style children, the process
// container otherwise.
func (engine *Engine) executionContainer(instance *runtime.ProcessInstance) (*model.FlowElementContainer, error) {
	switch instance.Kind {
	case runtime.InstanceKindSubProcess, runtime.InstanceKindMultiInstance:
		if instance.ParentToken == nil {
			return nil, newEngineErrorf("child instance %d has no parent token", instance.Key)
		}
		node := instance.Definition.NodeByID(instance.ParentToken.NodeID)
		if node == nil || node.Activity == nil || node.Activity.Container == nil {
			return nil, newEngineErrorf("child instance %d has no body container on node %d", instance.Key, instance.ParentToken.NodeID)
		}
		return node.Activity.Container, nil
	default:
		return instance.Definition.Container, nil
	}
}

func (engine *Engine) declareBusinessData(scopeKey int64, container *model.FlowElementContainer) {
	if len(container.BusinessData) == 0 {
		return
	}
	declarations := make([]bdm.Declaration, 0, len(container.BusinessData))
	for _, d := range container.BusinessData {
		declarations = append(declarations, bdm.Declaration{Name: d.Name, ClassName: d.ClassName})
	}
	engine.binder.DeclareScope(scopeKey, declarations)
}

func (engine *Engine) definitionByKey(ctx context.Context, key int64) (*model.ProcessDefinition, error) {
	if definition, ok := engine.definitionCache.Get(key); ok {
		return definition, nil
	}
	definition, err := engine.persistence.FindProcessDefinitionByKey(ctx, key)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to load process definition with key %d", key), err)
	}
	engine.definitionCache.Add(key, definition)
	return definition, nil
}

func (engine *Engine) loadInstance(ctx context.Context, key int64) (runtime.ProcessInstance, error) {
	instance, err := engine.persistence.FindProcessInstanceByKey(ctx, key)
	if err != nil {
		return runtime.ProcessInstance{}, errors.Join(newEngineErrorf("failed to find process instance with key %d", key), err)
	}
	if instance.Definition == nil {
		definition, err := engine.definitionByKey(ctx, instance.DefinitionKey)
		if err != nil {
			return runtime.ProcessInstance{}, err
		}
		instance.Definition = definition
	}
	return instance, nil
}

func (engine *Engine) lockInstance(key int64) *sync.Mutex {
	entry, _ := engine.instanceLocks.LoadOrStore(key, &sync.Mutex{})
	mu := entry.(*sync.Mutex)
	mu.Lock()
	return mu
}

func (engine *Engine) generateKey() int64 {
	return engine.snowflake.Generate().Int64()
}

func (engine *Engine) newToken(instance *runtime.ProcessInstance, nodeID int64, parentKey int64) runtime.ExecutionToken {
	return runtime.ExecutionToken{
		Key:                engine.generateKey(),
		ParentKey:          parentKey,
		ProcessInstanceKey: instance.Key,
		NodeID:             nodeID,
		State:              runtime.TokenStateRunning,
		CreatedAt:          time.Now(),
	}
}

func (engine *Engine) newFlowNodeInstance(ctx context.Context, instance *runtime.ProcessInstance, node *model.FlowNode, token runtime.ExecutionToken) runtime.FlowNodeInstance {
	now := time.Now()
	executionKey, _ := appcontext.ExecutionKeyFromContext(ctx)
	return runtime.FlowNodeInstance{
		Key:                       engine.generateKey(),
		NodeID:                    node.ID,
		State:                     runtime.ActivityStateActive,
		Category:                  runtime.CategoryNormal,
		ReachedAt:                 now,
		UpdatedAt:                 now,
		ProcessDefinitionKey:      instance.DefinitionKey,
		ProcessInstanceKey:        instance.Key,
		RootProcessInstanceKey:    instance.RootKey(),
		ParentActivityInstanceKey: instance.ParentActivityInstanceKey,
		TokenKey:                  token.Key,
		ExecutionKey:              executionKey,
	}
}

func (engine *Engine) completeAndArchive(ctx context.Context, batch storage.Batch, fni *runtime.FlowNodeInstance) {
	fni.SetState(runtime.ActivityStateCompleted, time.Now())
	fni.Stable = true
	batch.ArchiveFlowNodeInstance(ctx, *fni)
}
