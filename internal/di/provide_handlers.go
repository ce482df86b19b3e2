package di

import (
	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/cloudkeel/landingzone/internal/cfnresponse"
	"github.com/cloudkeel/landingzone/internal/handlers"
	"github.com/cloudkeel/landingzone/internal/handshake"
	"github.com/cloudkeel/landingzone/internal/router"
	"github.com/cloudkeel/landingzone/internal/services"
)

func ProvideOrgHandler(org services.Organizations, cross services.CrossAccount, store services.ParameterStore, trust services.RoleTrust, cfg *services.Config) *handlers.OrgHandler {
	return handlers.NewOrgHandler(org, cross, store, trust, *cfg)
}

func ProvideStackSetHandler(stackSets services.StackSets, store services.ParameterStore, objects services.ObjectStore, cross services.CrossAccount, reader services.StackReader, cfg *services.Config) *handlers.StackSetHandler {
	return handlers.NewStackSetHandler(stackSets, store, objects, cross, reader, *cfg)
}

func ProvideCatalogHandler(catalog services.ServiceCatalog, objects services.ObjectStore) *handlers.CatalogHandler {
	return handlers.NewCatalogHandler(catalog, objects)
}

func ProvideSCPHandler(org services.Organizations, objects services.ObjectStore) *handlers.SCPHandler {
	return handlers.NewSCPHandler(org, objects)
}

func ProvideAVMHandler(catalog services.ServiceCatalog, reader services.StackReader, homeCfg aws.Config) *handlers.AVMHandler {
	return handlers.NewAVMHandler(catalog, reader, homeCfg)
}

func ProvideADConnectorHandler(directories services.DirectoryService, store services.ParameterStore) *handlers.ADConnectorHandler {
	return handlers.NewADConnectorHandler(directories, store)
}

func ProvideHandshakeEngine(cross services.CrossAccount) *handshake.Engine {
	return handshake.New(cross)
}

func ProvideResponseSender() *cfnresponse.Sender {
	return &cfnresponse.Sender{}
}

func ProvideRouter(
	org *handlers.OrgHandler,
	stackSet *handlers.StackSetHandler,
	catalog *handlers.CatalogHandler,
	scp *handlers.SCPHandler,
	avm *handlers.AVMHandler,
	adConnector *handlers.ADConnectorHandler,
	engine *handshake.Engine,
	sink *cfnresponse.Sender,
) *router.Router {
	return router.New(org, stackSet, catalog, scp, avm, adConnector, engine, sink)
}
