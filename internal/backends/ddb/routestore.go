package ddb

import (
	"context"
	"posgate/internal/types"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type RouteStore struct {
	table string
	cli   *dynamodb.Client
}

type routeItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	types.RoutePolicy
}

// NewRouteStore creates the table when it does not exist yet.
func NewRouteStore(ctx context.Context, table string, cli *dynamodb.Client) (*RouteStore, error) {
	if err := createTableIfNotExists(ctx, cli, table); err != nil {
		return nil, err
	}
	return &RouteStore{table: table, cli: cli}, nil
}

func (s *RouteStore) GetRoute(ctx context.Context, routeID string) (types.RoutePolicy, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.table,
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkRoutes()},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skRoute(routeID)},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return types.RoutePolicy{}, types.Err(types.ErrDataStoreAccess, err, "")
	}
	if out.Item == nil {
		return types.RoutePolicy{}, types.ErrNotFound
	}
	var it routeItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return types.RoutePolicy{}, err
	}
	return it.RoutePolicy, nil
}

// ListRoutes returns every route ordered by RouteID (the sort key order).
func (s *RouteStore) ListRoutes(ctx context.Context) ([]types.RoutePolicy, error) {
	p := dynamodb.NewQueryPaginator(s.cli, &dynamodb.QueryInput{
		TableName:              &s.table,
		KeyConditionExpression: awsString("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":pk": &ddbTypes.AttributeValueMemberS{Value: pkRoutes()},
			":sk": &ddbTypes.AttributeValueMemberS{Value: SRoute + "#"},
		},
	})
	var routes []types.RoutePolicy
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, types.Err(types.ErrDataStoreAccess, err, "")
		}
		for _, item := range out.Items {
			var it routeItem
			if err := attributevalue.UnmarshalMap(item, &it); err != nil {
				return nil, err
			}
			if it.RouteID == "" {
				if it.RouteID, err = parseRouteID(it.SK); err != nil {
					return nil, err
				}
			}
			routes = append(routes, it.RoutePolicy)
		}
	}
	return routes, nil
}

func (s *RouteStore) PutRoute(ctx context.Context, route types.RoutePolicy) error {
	if err := route.Validate(); err != nil {
		return types.Err(types.ErrInvalidRoute, err, "")
	}
	item, err := attributevalue.MarshalMap(routeItem{
		PK:          pkRoutes(),
		SK:          skRoute(route.RouteID),
		RoutePolicy: route,
	})
	if err != nil {
		return err
	}
	_, err = s.cli.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      item,
	})
	return err
}

func (s *RouteStore) DeleteRoute(ctx context.Context, routeID string) error {
	_, err := s.cli.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.table,
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkRoutes()},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skRoute(routeID)},
		},
	})
	return err
}

func (s *RouteStore) ClearAll(ctx context.Context) error {
	_, err := deleteByPrefix(ctx, s.cli, s.table, pkRoutes(), SRoute+"#")
	return err
}
