package exampleapp

import logger "github.com/sirupsen/logrus"

var log = logger.WithFields(logger.Fields{"process": "exampleapp"})
