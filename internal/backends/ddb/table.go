package ddb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

const (
	SRoute  = "ROUTE"
	SRoutes = "ROUTES"
	SValue  = "VALUE"
	SVal    = "VAL"
)

func pkRoutes() string          { return SRoutes }
func skRoute(id string) string  { return fmt.Sprintf("%s#%s", SRoute, id) }
func pkValues() string          { return SValue }
func skValue(key string) string { return fmt.Sprintf("%s#%s", SVal, key) }

func parseRouteID(sk string) (string, error) {
	prefix := SRoute + "#"
	if len(sk) <= len(prefix) || sk[:len(prefix)] != prefix {
		return "", fmt.Errorf("unexpected route sort key %q", sk)
	}
	return sk[len(prefix):], nil
}

// createTableIfNotExists creates the single PK/SK table the stores share.
// An existing table is fine.
func createTableIfNotExists(ctx context.Context, client *dynamodb.Client, table string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &table,
		AttributeDefinitions: []ddbTypes.AttributeDefinition{
			{AttributeName: awsString("PK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
			{AttributeName: awsString("SK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbTypes.KeySchemaElement{
			{AttributeName: awsString("PK"), KeyType: ddbTypes.KeyTypeHash},
			{AttributeName: awsString("SK"), KeyType: ddbTypes.KeyTypeRange},
		},
		BillingMode: ddbTypes.BillingModePayPerRequest,
	})
	var re *ddbTypes.ResourceInUseException
	if err != nil && !errors.As(err, &re) {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	if err == nil {
		log.WithField("table", table).Info("created DynamoDB table")
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
