package handlers

import (
	"context"
	"fmt"

	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/params"
	"github.com/cloudkeel/landingzone/internal/services"
)

// ADConnectorHandler implements the directory-connector steps. The connector
// password travels as a secure-string sentinel and is expanded from the home
// region store just before the connect call.
type ADConnectorHandler struct {
	directories services.DirectoryService
	store       services.ParameterStore
}

// NewADConnectorHandler creates the AD connector handler.
func NewADConnectorHandler(directories services.DirectoryService, store services.ParameterStore) *ADConnectorHandler {
	return &ADConnectorHandler{directories: directories, store: store}
}

// DescribeDirectory searches by DNS name and IP set, writing the directory id
// or the not-found sentinel.
func (h *ADConnectorHandler) DescribeDirectory(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	directory, err := h.directories.FindDirectory(ctx, props.DirectoryName, props.DnsIps)
	if err != nil {
		return nil, err
	}
	if directory == nil {
		evt.DirectoryId = OUNotFound
		evt.DirectoryStatus = ""
		return evt, nil
	}
	evt.DirectoryId = directory.Id
	evt.DirectoryStatus = directory.Status
	return evt, nil
}

func (h *ADConnectorHandler) ConnectDirectory(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	password, err := params.ExpandSecret(ctx, h.store, props.Password)
	if err != nil {
		return nil, err
	}

	directoryID, err := h.directories.ConnectDirectory(ctx, services.ConnectDirectoryInput{
		Name:      props.DirectoryName,
		Password:  password,
		Size:      props.ConnectorSize,
		VpcId:     props.VpcId,
		SubnetIds: props.SubnetIds,
		DnsIps:    props.DnsIps,
		UserName:  props.UserName,
	})
	if err != nil {
		return nil, err
	}
	evt.DirectoryId = directoryID
	return evt, nil
}

// CheckADConnectorStatus polls until the directory is Active or Deleted. A
// Failed directory is a hard error.
func (h *ADConnectorHandler) CheckADConnectorStatus(ctx context.Context, evt *event.Event) (*event.Event, error) {
	directory, err := h.directories.DescribeDirectory(ctx, evt.DirectoryId)
	if err != nil {
		return nil, err
	}
	evt.DirectoryStatus = directory.Status
	if directory.Status == "Failed" {
		return nil, fmt.Errorf("directory %s failed to connect", evt.DirectoryId)
	}
	return evt, nil
}

func (h *ADConnectorHandler) DeleteDirectory(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if evt.DirectoryId == "" || evt.DirectoryId == OUNotFound {
		return evt, nil
	}
	if err := h.directories.DeleteDirectory(ctx, evt.DirectoryId); err != nil {
		return nil, err
	}
	return evt, nil
}
