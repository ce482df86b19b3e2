// Package event defines the state-machine event that flows between steps.
// The pipeline trigger builds one event per unit of work, each state-machine
// step routes it to a handler, and the handler returns the same event with new
// fields set. Field names follow the wire contract of the state-machine
// definitions and the CloudFormation custom-resource protocol, so they are
// PascalCase on the wire.
package event

import (
	"encoding/json"
	"fmt"
)

// RequestType is the lifecycle verb carried by each event.
type RequestType string

const (
	RequestTypeCreate RequestType = "Create"
	RequestTypeUpdate RequestType = "Update"
	RequestTypeDelete RequestType = "Delete"
)

// ParseRequestType validates the three allowed literals. Anything else is a
// usage error surfaced before any cloud call.
func ParseRequestType(s string) (RequestType, error) {
	switch RequestType(s) {
	case RequestTypeCreate, RequestTypeUpdate, RequestTypeDelete:
		return RequestType(s), nil
	}
	return "", fmt.Errorf("invalid RequestType %q, expected Create, Update, or Delete", s)
}

// RouterParams selects the handler component and method for one step.
type RouterParams struct {
	ClassName    string `json:"ClassName"`
	FunctionName string `json:"FunctionName"`
}

// OUOperation pairs an organizational unit path with the policy operation the
// SCP state machine should apply to it.
type OUOperation struct {
	OUName    string `json:"OUName"`
	Operation string `json:"Operation"` // Attach or Detach
}

// AccountSummary is the slice of account data the org handler accumulates
// while paginating ListAccounts.
type AccountSummary struct {
	AccountId    string `json:"AccountId"`
	AccountName  string `json:"AccountName"`
	AccountEmail string `json:"AccountEmail"`
	Status       string `json:"Status"`
}

// ResourceProperties is the per-kind payload built by the pipeline trigger.
// Only the fields relevant to the target state machine are populated.
type ResourceProperties struct {
	// shared
	AccountList   []string          `json:"AccountList,omitempty"`
	RegionList    []string          `json:"RegionList,omitempty"`
	TemplateURL   string            `json:"TemplateURL,omitempty"`
	Parameters    map[string]string `json:"Parameters,omitempty"`
	Capabilities  string            `json:"Capabilities,omitempty"`
	SSMParameters map[string]string `json:"SSMParameters,omitempty"`

	// organization / account
	OUName              string `json:"OUName,omitempty"`
	OUNameDelimiter     string `json:"OUNameDelimiter,omitempty"`
	AccountName         string `json:"AccountName,omitempty"`
	AccountEmail        string `json:"AccountEmail,omitempty"`
	AccountId           string `json:"AccountId,omitempty"`
	SourceParentId      string `json:"SourceParentId,omitempty"`
	DestinationParentId string `json:"DestinationParentId,omitempty"`
	LockStackSetsRole   bool   `json:"LockStackSetsRole,omitempty"`
	ExecutionRoleName   string `json:"ExecutionRoleName,omitempty"`

	// stack set
	StackSetName      string `json:"StackSetName,omitempty"`
	ParameterOverride string `json:"ParameterOverride,omitempty"`

	// service control policy
	PolicyName        string        `json:"PolicyName,omitempty"`
	PolicyDescription string        `json:"PolicyDescription,omitempty"`
	PolicyURL         string        `json:"PolicyURL,omitempty"`
	OUList            []OUOperation `json:"OUList,omitempty"`

	// service catalog
	PortfolioName              string              `json:"PortfolioName,omitempty"`
	PortfolioDescription       string              `json:"PortfolioDescription,omitempty"`
	PortfolioProvider          string              `json:"PortfolioProvider,omitempty"`
	PrincipalArn               string              `json:"PrincipalArn,omitempty"`
	ProductName                string              `json:"ProductName,omitempty"`
	ProductDescription         string              `json:"ProductDescription,omitempty"`
	ProductOwner               string              `json:"ProductOwner,omitempty"`
	LaunchConstraintRole       string              `json:"RoleArn,omitempty"`
	TemplateRules              string              `json:"TemplateRules,omitempty"`
	HideOldVersions            string              `json:"HideOldVersions,omitempty"`
	ProductId                  string              `json:"ProductId,omitempty"`
	ProvisioningParametersList []map[string]string `json:"ProvisioningParametersList,omitempty"`

	// ad connector
	DirectoryName string   `json:"DirectoryName,omitempty"`
	DnsIps        []string `json:"DnsIps,omitempty"`
	VpcId         string   `json:"VpcId,omitempty"`
	SubnetIds     []string `json:"SubnetIds,omitempty"`
	ConnectorSize string   `json:"ConnectorSize,omitempty"`
	UserName      string   `json:"UserName,omitempty"`
	Password      string   `json:"Password,omitempty"` // secure-string sentinel, never cleartext

	// handshake
	PeerType       string `json:"PeerType,omitempty"` // vpc_peering or guard_duty
	HubAccountId   string `json:"HubAccountId,omitempty"`
	SpokeAccountId string `json:"SpokeAccountId,omitempty"`
	HubVpcId       string `json:"HubVpcId,omitempty"`
	SpokeVpcId     string `json:"SpokeVpcId,omitempty"`
	HubRegion      string `json:"HubRegion,omitempty"`
	SpokeRegion    string `json:"SpokeRegion,omitempty"`
	SpokeEmail     string `json:"SpokeEmail,omitempty"`
}

// Event is the full state-machine event. Handlers mutate it in place and
// return it as the next step's input.
type Event struct {
	RequestType           string              `json:"RequestType,omitempty"`
	Params                RouterParams        `json:"params,omitempty"`
	ResourceType          string              `json:"ResourceType,omitempty"`
	ResourceProperties    *ResourceProperties `json:"ResourceProperties,omitempty"`
	OldResourceProperties *ResourceProperties `json:"OldResourceProperties,omitempty"`

	// custom-resource callback fields
	ResponseURL        string `json:"ResponseURL,omitempty"`
	StackId            string `json:"StackId,omitempty"`
	RequestId          string `json:"RequestId,omitempty"`
	LogicalResourceId  string `json:"LogicalResourceId,omitempty"`
	PhysicalResourceId string `json:"PhysicalResourceId,omitempty"`
	StateMachineArn    string `json:"StateMachineArn,omitempty"`

	// organization / account state
	RootId                   string `json:"RootId,omitempty"`
	OrganizationalUnitId     string `json:"OrganizationalUnitId,omitempty"` // "None" when not found
	CreateAccountRequestId   string `json:"CreateAccountRequestId,omitempty"`
	AccountStatus            string `json:"AccountStatus,omitempty"` // IN_PROGRESS, SUCCEEDED, FAILED
	FailureReason            string `json:"FailureReason,omitempty"`
	OrganizationInitializing string `json:"OrganizationInitializing,omitempty"` // yes while finalizing
	AccountInitialized       bool   `json:"AccountInitialized,omitempty"`
	AccountId                string `json:"AccountId,omitempty"`
	MasterAccountId          string `json:"MasterAccountId,omitempty"`

	// pagination state
	NextToken string           `json:"NextToken,omitempty"`
	Complete  bool             `json:"Complete,omitempty"`
	Accounts  []AccountSummary `json:"Accounts,omitempty"`

	// stack set state
	StackSetExist      bool              `json:"StackSetExist,omitempty"`
	InstanceExist      bool              `json:"InstanceExist,omitempty"`
	CreateInstance     bool              `json:"CreateInstance,omitempty"`
	DeleteInstance     bool              `json:"DeleteInstance,omitempty"`
	ExistingRegionList []string          `json:"ExistingRegionList,omitempty"`
	AddRegionList      []string          `json:"AddRegionList,omitempty"`
	DeleteRegionList   []string          `json:"DeleteRegionList,omitempty"`
	OperationId        string            `json:"OperationId,omitempty"`
	OperationStatus    string            `json:"OperationStatus,omitempty"`
	RetryDeleteFlag    bool              `json:"RetryDeleteFlag,omitempty"`
	Outputs            map[string]string `json:"Outputs,omitempty"` // output_<key> fields

	// service catalog state
	PortfolioExist          bool   `json:"PortfolioExist,omitempty"`
	PortfolioId             string `json:"PortfolioId,omitempty"`
	PrincipalAssociated     bool   `json:"PrincipalAssociated,omitempty"`
	ProductExist            bool   `json:"ProductExist,omitempty"`
	ProductId               string `json:"ProductId,omitempty"`
	ConstraintExist         bool   `json:"ConstraintExist,omitempty"`
	ConstraintId            string `json:"ConstraintId,omitempty"`
	TemplateConstraintExist bool   `json:"TemplateConstraintExist,omitempty"`
	TemplateConstraintId    string `json:"TemplateConstraintId,omitempty"`
	MinVersionName          string `json:"MinVersionName,omitempty"`
	MaxVersionName          string `json:"MaxVersionName,omitempty"`
	DeleteOldestArtifact    string `json:"DeleteOldestArtifact,omitempty"` // yes at the 50-version cap
	OldestArtifactId        string `json:"OldestArtifactId,omitempty"`
	HideArtifactId          string `json:"HideArtifactId,omitempty"`
	CreateNewArtifact       string `json:"CreateNewArtifact,omitempty"` // no when templates byte-match
	ProvisioningArtifactId  string `json:"ProvisioningArtifactId,omitempty"`

	// avm / iterator state
	Index                    int               `json:"Index,omitempty"`
	Count                    int               `json:"Count,omitempty"`
	Continue                 bool              `json:"Continue,omitempty"`
	NextPageToken            string            `json:"NextPageToken,omitempty"`
	ProdParams               map[string]string `json:"ProdParams,omitempty"`
	ProvisionedProductExists bool              `json:"ProvisionedProductExists,omitempty"`
	ProvisionedProductId     string            `json:"ProvisionedProductId,omitempty"`
	RecordId                 string            `json:"RecordId,omitempty"`
	ExistingParameterKeys    []string          `json:"ExistingParameterKeys,omitempty"`
	ProvisioningStatus       string            `json:"ProvisioningStatus,omitempty"` // RETRY on throttled updates

	// service control policy state
	PolicyExist     bool   `json:"PolicyExist,omitempty"`
	PolicyId        string `json:"PolicyId,omitempty"`
	PolicyOperation string `json:"PolicyOperation,omitempty"` // Attach or Detach, set by the iterator

	// ad connector state
	DirectoryId     string `json:"DirectoryId,omitempty"`
	DirectoryStatus string `json:"DirectoryStatus,omitempty"`

	// handshake state
	DetectorId          string   `json:"DetectorId,omitempty"`
	MemberDetectorId    string   `json:"MemberDetectorId,omitempty"`
	InvitationId        string   `json:"InvitationId,omitempty"`
	PeeringConnectionId string   `json:"PeeringConnectionId,omitempty"`
	RelationshipStatus  string   `json:"RelationshipStatus,omitempty"`
	PeerCidr            string   `json:"PeerCidr,omitempty"`
	UnprocessedAccounts []string `json:"UnprocessedAccounts,omitempty"`

	// router diagnostic for unknown class or function names
	Message string `json:"Message,omitempty"`
}

// Clone deep-copies the event via JSON. Used by the trigger when persisting
// deferred sequential inputs so later mutation cannot leak backwards.
func (e *Event) Clone() (*Event, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	var out Event
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &out, nil
}

// Properties returns the resource properties, allocating them when absent so
// handlers can always read through the pointer.
func (e *Event) Properties() *ResourceProperties {
	if e.ResourceProperties == nil {
		e.ResourceProperties = &ResourceProperties{}
	}
	return e.ResourceProperties
}
