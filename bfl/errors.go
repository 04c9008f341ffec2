package bfl

import (
	"errors"
	"log"
)

//ErrInvalidTrainingData reports a degenerate boosting round whose total
//weighted mass is zero, so no bias can be normalized.
var ErrInvalidTrainingData = errors.New("invalid training data: zero total weight")

//ErrConfig reports a trainer configuration rejected at construction.
var ErrConfig = errors.New("invalid trainer configuration")

//HandleError panics on a non-nil error. Used on paths where a failure
//means a programming error rather than bad input.
func HandleError(err error) {
	if err != nil {
		log.Panic(err)
	}
}
