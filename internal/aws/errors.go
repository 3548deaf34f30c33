package aws

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// IsConditionalCheckFailed reports whether err is a DynamoDB conditional write rejection.
func IsConditionalCheckFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

// TransactionConditionFailed reports whether the transaction was cancelled
// because the condition on item index i did not hold.
func TransactionConditionFailed(err error, i int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || i >= len(tce.CancellationReasons) {
		return false
	}
	code := tce.CancellationReasons[i].Code
	return code != nil && *code == "ConditionalCheckFailed"
}
